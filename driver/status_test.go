package driver

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStatusString(t *testing.T) {
	require.True(t, Success.Ok())
	require.False(t, ErrorOutOfMemory.Ok())
	require.Equal(t, "CUDA_ERROR_OUT_OF_MEMORY (2)", ErrorOutOfMemory.String())
	require.Equal(t, "CUDA_ERROR_LAUNCH_FAILED (719)", ErrorLaunchFailed.Error())
	require.Equal(t, "CUDA_ERROR(12345)", Status(12345).String())
}
