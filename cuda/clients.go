package cuda

import (
	"fmt"
	"math"

	"github.com/gomlx/gocuda/driver"
	"github.com/pkg/errors"
)

// Client binds the cuda package to a driver.Driver: buffers, arrays, modules and launches are all
// created through a Client.
//
// A Client holds no device resources itself, so it doesn't need to be destroyed. It is safe for
// concurrent use.
type Client struct {
	driver driver.Driver

	allowEmptyArrays    bool
	defaultSharedMemory uint32
}

// NewClient creates a Client issuing its operations to drv.
//
// Options can be nil. The options recognized are OptionAllowEmptyArrays and OptionDefaultSharedMemory;
// unknown options or values of the wrong type return an error.
func NewClient(drv driver.Driver, options NamedValuesMap) (*Client, error) {
	if drv == nil {
		return nil, errors.New("cuda.NewClient requires a non-nil driver")
	}
	if err := options.validate(); err != nil {
		return nil, errors.WithMessagef(err, "invalid options when creating a new cuda.Client")
	}
	if unknown := options.unknownKeys(knownOptions); len(unknown) > 0 {
		return nil, errors.Errorf("unknown options %q when creating a new cuda.Client, known options are %q", unknown, knownOptions)
	}
	c := &Client{driver: drv}
	var err error
	c.allowEmptyArrays, err = options.getBool(OptionAllowEmptyArrays, false)
	if err != nil {
		return nil, err
	}
	sharedMem, err := options.getInt64(OptionDefaultSharedMemory, 0)
	if err != nil {
		return nil, err
	}
	if sharedMem < 0 || sharedMem > math.MaxUint32 {
		return nil, errors.Errorf("option %q must be between 0 and %d, got %d", OptionDefaultSharedMemory, uint32(math.MaxUint32), sharedMem)
	}
	c.defaultSharedMemory = uint32(sharedMem)
	return c, nil
}

// Driver returns the driver used by the client.
func (c *Client) Driver() driver.Driver {
	return c.driver
}

// AllowEmptyArrays returns whether arrays with zero elements are accepted, see OptionAllowEmptyArrays.
func (c *Client) AllowEmptyArrays() bool {
	return c.allowEmptyArrays
}

// String implements fmt.Stringer.
func (c *Client) String() string {
	if c == nil || c.driver == nil {
		return "Invalid client"
	}
	return fmt.Sprintf("Client[driver=%T, context=%#x]", c.driver, uintptr(c.driver.CurrentContext()))
}

// Synchronize blocks until all the work submitted to the current stream is done.
// It's a no-op if the driver doesn't implement driver.Synchronizer.
func (c *Client) Synchronize() error {
	syncer, ok := c.driver.(driver.Synchronizer)
	if !ok {
		return nil
	}
	return statusErrorf(DeviceError, syncer.StreamSynchronize(c.driver.CurrentStream()), "failed to synchronize stream")
}
