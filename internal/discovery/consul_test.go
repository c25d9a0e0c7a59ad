package discovery

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	consulapi "github.com/hashicorp/consul/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAgent struct {
	mu           sync.Mutex
	registered   *consulapi.AgentServiceRegistration
	deregistered []string
}

func (f *fakeAgent) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch {
	case r.Method == http.MethodPut && r.URL.Path == "/v1/agent/service/register":
		var reg consulapi.AgentServiceRegistration
		if err := json.NewDecoder(r.Body).Decode(&reg); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.registered = &reg
	case r.Method == http.MethodPut && strings.HasPrefix(r.URL.Path, "/v1/agent/service/deregister/"):
		f.deregistered = append(f.deregistered, strings.TrimPrefix(r.URL.Path, "/v1/agent/service/deregister/"))
	default:
		http.NotFound(w, r)
	}
}

func TestRegistrar_RegisterAndDeregister(t *testing.T) {
	agent := &fakeAgent{}
	srv := httptest.NewServer(agent)
	defer srv.Close()

	r, err := NewRegistrar(strings.TrimPrefix(srv.URL, "http://"), nil)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, r.Deregister(ctx))

	require.NoError(t, r.Register(ctx, Registration{
		ServiceName: "messenger-service",
		InstanceID:  "node-a",
		Host:        "10.0.0.5",
		Port:        4000,
	}))
	agent.mu.Lock()
	reg := agent.registered
	agent.mu.Unlock()
	require.NotNil(t, reg)
	assert.Equal(t, "messenger-service-node-a", reg.ID)
	assert.Equal(t, "messenger-service", reg.Name)
	assert.Equal(t, 4000, reg.Port)
	require.NotNil(t, reg.Check)
	assert.Equal(t, "http://10.0.0.5:4000/v1/health", reg.Check.HTTP)
	assert.Equal(t, "10s", reg.Check.Interval)

	require.NoError(t, r.Deregister(ctx))
	require.NoError(t, r.Deregister(ctx))
	agent.mu.Lock()
	defer agent.mu.Unlock()
	assert.Equal(t, []string{"messenger-service-node-a"}, agent.deregistered)
}

func TestRegistrar_AgentFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "agent unavailable", http.StatusInternalServerError)
	}))
	defer srv.Close()

	r, err := NewRegistrar(srv.URL, nil)
	require.NoError(t, err)
	err = r.Register(context.Background(), Registration{ServiceName: "messenger-service", InstanceID: "x", Host: "h", Port: 1})
	require.Error(t, err)
	require.Contains(t, err.Error(), "consul register messenger-service-x")
	require.NoError(t, r.Deregister(context.Background()))
}
