package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/elastic/go-elasticsearch/v8"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractHostPort(t *testing.T) {
	assert.Equal(t, "ch.local:9000", extractHostPort("ch.local"))
	assert.Equal(t, "ch.local:9440", extractHostPort("https://ch.local"))
	assert.Equal(t, "ch.local:9100", extractHostPort("http://ch.local:9100/"))
	assert.Equal(t, "ch.local", extractHostname("https://ch.local:9440"))
}

func TestRedisClient_HealthCheck(t *testing.T) {
	mr := miniredis.RunT(t)
	rc := NewRedisClientFrom(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	defer rc.Close()

	require.NoError(t, rc.HealthCheck(context.Background()))

	mr.Close()
	assert.Error(t, rc.HealthCheck(context.Background()))
}

func newTestES(t *testing.T, handler http.HandlerFunc) *ESClient {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		w.Header().Set("Content-Type", "application/json")
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	es, err := elasticsearch.NewClient(elasticsearch.Config{Addresses: []string{srv.URL}})
	require.NoError(t, err)
	return NewESClientFrom(es)
}

func TestESClient_IndexDocument(t *testing.T) {
	var gotPath, gotMethod string
	es := newTestES(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath, gotMethod = r.URL.Path, r.Method
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"result":"created"}`))
	})

	err := es.IndexDocument(context.Background(), "errors", "42", map[string]string{"message": "boom"})

	require.NoError(t, err)
	assert.Equal(t, http.MethodPut, gotMethod)
	assert.Equal(t, "/errors/_doc/42", gotPath)
}

func TestESClient_IndexDocumentError(t *testing.T) {
	es := newTestES(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"type":"mapper_parsing_exception","reason":"failed to parse"}}`))
	})

	err := es.IndexDocument(context.Background(), "errors", "1", map[string]string{})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "mapper_parsing_exception")
}

func TestESClient_HealthCheck(t *testing.T) {
	es := newTestES(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"version":{"number":"8.19.0"}}`))
	})
	assert.NoError(t, es.HealthCheck(context.Background()))
}
