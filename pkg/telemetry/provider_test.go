package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInitAndShutdown(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{ServiceName: "voxdialogd-test"})
	require.NoError(t, err)
	require.NotNil(t, shutdown)

	require.NoError(t, shutdown(context.Background()))
}
