package discovery

import (
	"context"
	"fmt"
	"time"

	consulapi "github.com/hashicorp/consul/api"
	"go.uber.org/zap"
)

type Registration struct {
	ServiceName   string
	InstanceID    string
	Host          string
	Port          int
	CheckInterval time.Duration
	Tags          []string
}

// Registrar announces this instance to the Consul agent so the gateway can
// route to it. The agent polls /v1/health.
type Registrar struct {
	client *consulapi.Client
	id     string
	logger *zap.Logger
}

func NewRegistrar(addr string, logger *zap.Logger) (*Registrar, error) {
	cfg := consulapi.DefaultConfig()
	if addr != "" {
		cfg.Address = addr
	}
	client, err := consulapi.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("consul client: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registrar{client: client, logger: logger.Named("discovery")}, nil
}

func serviceID(r Registration) string {
	return fmt.Sprintf("%s-%s", r.ServiceName, r.InstanceID)
}

func (r *Registrar) Register(ctx context.Context, reg Registration) error {
	interval := reg.CheckInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	id := serviceID(reg)
	svc := &consulapi.AgentServiceRegistration{
		ID:      id,
		Name:    reg.ServiceName,
		Address: reg.Host,
		Port:    reg.Port,
		Tags:    reg.Tags,
		Meta:    map[string]string{"instance_id": reg.InstanceID},
		Check: &consulapi.AgentServiceCheck{
			HTTP:                           fmt.Sprintf("http://%s:%d/v1/health", reg.Host, reg.Port),
			Interval:                       interval.String(),
			Timeout:                        "2s",
			DeregisterCriticalServiceAfter: "1m",
		},
	}
	if err := r.client.Agent().ServiceRegisterOpts(svc, consulapi.ServiceRegisterOpts{}.WithContext(ctx)); err != nil {
		return fmt.Errorf("consul register %s: %w", id, err)
	}
	r.id = id
	r.logger.Info("registered with consul", zap.String("service_id", id))
	return nil
}

// Deregister is a no-op when Register never succeeded.
func (r *Registrar) Deregister(ctx context.Context) error {
	if r.id == "" {
		return nil
	}
	q := (&consulapi.QueryOptions{}).WithContext(ctx)
	if err := r.client.Agent().ServiceDeregisterOpts(r.id, q); err != nil {
		return fmt.Errorf("consul deregister %s: %w", r.id, err)
	}
	r.logger.Info("deregistered from consul", zap.String("service_id", r.id))
	r.id = ""
	return nil
}
