package cmd

import (
	"bytes"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestConsoleWriter(t *testing.T) {
	var out bytes.Buffer
	logger := zerolog.New(NewConsoleWriter(&out))

	logger.Info().Str("task", "coffee").Msg("compiled 2 files")
	require.Contains(t, out.String(), "coffee: compiled 2 files")

	out.Reset()
	logger.Info().Str("task", "lint").Bool("command", true).Msg("echo hi")
	require.Contains(t, out.String(), "lint: $ echo hi")

	out.Reset()
	logger.Error().Err(errors.New("missing compiler")).Msg("Failed task default:")
	require.Contains(t, out.String(), "Error: Failed task default:")
	require.Contains(t, out.String(), "missing compiler")
}
