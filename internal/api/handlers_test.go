package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/dawnstore-io/dawnstore/internal/api"
	"github.com/dawnstore-io/dawnstore/internal/config"
	"github.com/dawnstore-io/dawnstore/internal/store"
	"github.com/dawnstore-io/dawnstore/internal/store/storetest"
)

type ServerSuite struct {
	suite.Suite
	server *api.Server
}

func TestServerSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping API integration suite in short mode")
	}
	suite.Run(t, new(ServerSuite))
}

func (s *ServerSuite) SetupSuite() {
	st := storetest.NewStore(s.T())
	require.NoError(s.T(), st.SeedResourceDefinition(context.Background(), "v1", "widget", nil, `{"type":"object"}`, nil))

	s.server = api.NewServer(config.ServerConfig{
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  30 * time.Second,
		BodyLimit:    1 << 20,
	}, st)
}

func (s *ServerSuite) do(method, path string, body any) *http.Response {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(s.T(), err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.server.Test(req)
	require.NoError(s.T(), err)
	return resp
}

func (s *ServerSuite) TestApplyEndpoint() {
	resp := s.do(http.MethodPost, "/apply", map[string]any{
		"name": "w1", "kind": "widget", "api_version": "v1",
	})
	defer resp.Body.Close()
	s.Equal(http.StatusOK, resp.StatusCode)

	var objects []store.ReturnObject
	require.NoError(s.T(), json.NewDecoder(resp.Body).Decode(&objects))
	s.Require().Len(objects, 1)
	s.Equal("w1", objects[0].Name)
}

func (s *ServerSuite) TestApplyEndpointValidationFailure() {
	resp := s.do(http.MethodPost, "/apply", map[string]any{"name": "w2"})
	defer resp.Body.Close()
	s.Equal(http.StatusBadRequest, resp.StatusCode)
}

func (s *ServerSuite) TestGetResourceDefinitionsEndpoint() {
	resp := s.do(http.MethodPost, "/get-resource-definitions", nil)
	defer resp.Body.Close()
	s.Equal(http.StatusOK, resp.StatusCode)
}

func (s *ServerSuite) TestHealthEndpoint() {
	resp := s.do(http.MethodGet, "/healthz", nil)
	defer resp.Body.Close()
	s.Equal(http.StatusOK, resp.StatusCode)
}
