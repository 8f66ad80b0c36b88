package telemetry

import (
	"context"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNew_Disabled(t *testing.T) {
	tel, shutdown, err := New(Config{})
	require.NoError(t, err)
	require.Nil(t, tel.MeterProvider)
	require.Nil(t, tel.MetricsHandler)
	require.NotNil(t, tel.Meter)
	require.NotNil(t, tel.Tracer)
	require.NoError(t, shutdown(context.Background()))
}

func TestNew_ExposesMetrics(t *testing.T) {
	tel, shutdown, err := New(Config{Enabled: true, ServiceName: "pagestore-test"})
	require.NoError(t, err)
	defer func() { require.NoError(t, shutdown(context.Background())) }()

	counter, err := tel.Meter.Int64Counter("gojodb.test.pages_total")
	require.NoError(t, err)
	counter.Add(context.Background(), 3)

	_, span := tel.Tracer.Start(context.Background(), "test")
	require.True(t, span.SpanContext().IsValid())
	span.End()

	srv := httptest.NewServer(tel.MetricsHandler)
	defer srv.Close()
	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), "gojodb_test_pages_total")
}
