package otel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInitDisabledIsNoop(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{})
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}

func TestInitValidates(t *testing.T) {
	_, err := Init(context.Background(), Config{Traces: true})
	require.Error(t, err)

	_, err = Init(context.Background(), Config{ServiceName: "defihub", Traces: true, SampleRatio: 1.5})
	require.Error(t, err)
}

func TestParseHeaders(t *testing.T) {
	headers := ParseHeaders(" authorization = Bearer abc ,broken, =skip,x-team=defi")
	require.Equal(t, map[string]string{
		"authorization": "Bearer abc",
		"x-team":        "defi",
	}, headers)
	require.Empty(t, ParseHeaders(""))
}

func TestSamplerDescription(t *testing.T) {
	require.Contains(t, sampler(0).Description(), "AlwaysOnSampler")
	require.Contains(t, sampler(0.25).Description(), "TraceIDRatioBased")
}
