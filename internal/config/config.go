package config

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultCounterpartyIndex = "CounterpartyIndex"
	defaultTherapistIndex    = "TherapistClientIndex"
	defaultClientSessions    = "ClientSessionsIndex"
	defaultBatchSize         = 25
	defaultMaxBatchRetries   = 5
	defaultOperationTimeout  = 10 * time.Second
)

// Tables names every DynamoDB table the service touches.
type Tables struct {
	MappingRequests       string `yaml:"mappingRequests"`
	JournalAccessRequests string `yaml:"journalAccessRequests"`
	AppointmentRequests   string `yaml:"appointmentRequests"`
	MappedTherapists      string `yaml:"mappedTherapists"`
	SessionSlots          string `yaml:"sessionSlots"`
	Sessions              string `yaml:"sessions"`
}

// Indexes names the global secondary indexes queried by the repositories.
type Indexes struct {
	// RequestCounterparty is defined on all three request tables.
	RequestCounterparty string `yaml:"requestCounterparty"`
	TherapistClients    string `yaml:"therapistClients"`
	ClientSessions      string `yaml:"clientSessions"`
}

// Config is built once in main and passed to each component.
type Config struct {
	Tables           Tables        `yaml:"tables"`
	Indexes          Indexes       `yaml:"indexes"`
	BatchSize        int           `yaml:"batchSize"`
	MaxBatchRetries  int           `yaml:"maxBatchRetries"`
	OperationTimeout time.Duration `yaml:"operationTimeout"`
}

// FromEnv reads the configuration through lookup, typically os.Getenv.
func FromEnv(lookup func(string) string) (Config, error) {
	cfg := Config{
		Tables: Tables{
			MappingRequests:       strings.TrimSpace(lookup("MAPPING_REQUESTS_TABLE")),
			JournalAccessRequests: strings.TrimSpace(lookup("JOURNAL_ACCESS_REQUESTS_TABLE")),
			AppointmentRequests:   strings.TrimSpace(lookup("APPOINTMENT_REQUESTS_TABLE")),
			MappedTherapists:      strings.TrimSpace(lookup("MAPPED_THERAPISTS_TABLE")),
			SessionSlots:          strings.TrimSpace(lookup("SESSION_SLOTS_TABLE")),
			Sessions:              strings.TrimSpace(lookup("SESSIONS_TABLE")),
		},
		Indexes: Indexes{
			RequestCounterparty: envString(lookup, "REQUEST_COUNTERPARTY_INDEX", defaultCounterpartyIndex),
			TherapistClients:    envString(lookup, "THERAPIST_CLIENT_INDEX", defaultTherapistIndex),
			ClientSessions:      envString(lookup, "CLIENT_SESSIONS_INDEX", defaultClientSessions),
		},
		BatchSize:        envInt(lookup, "BATCH_WRITE_SIZE", defaultBatchSize),
		MaxBatchRetries:  envInt(lookup, "MAX_BATCH_RETRIES", defaultMaxBatchRetries),
		OperationTimeout: envDuration(lookup, "OPERATION_TIMEOUT", defaultOperationTimeout),
	}
	return cfg, cfg.Validate()
}

// Validate reports every missing table name at once, in declaration order.
func (c Config) Validate() error {
	var errs []error
	required := []struct{ name, value string }{
		{"mapping requests", c.Tables.MappingRequests},
		{"journal access requests", c.Tables.JournalAccessRequests},
		{"appointment requests", c.Tables.AppointmentRequests},
		{"mapped therapists", c.Tables.MappedTherapists},
		{"session slots", c.Tables.SessionSlots},
		{"sessions", c.Tables.Sessions},
	}
	for _, r := range required {
		if r.value == "" {
			errs = append(errs, fmt.Errorf("config: %s table name is required", r.name))
		}
	}
	if c.BatchSize <= 0 || c.BatchSize > 25 {
		errs = append(errs, fmt.Errorf("config: batch size must be between 1 and 25, got %d", c.BatchSize))
	}
	if c.MaxBatchRetries < 0 {
		errs = append(errs, fmt.Errorf("config: max batch retries must not be negative, got %d", c.MaxBatchRetries))
	}
	if c.OperationTimeout <= 0 {
		errs = append(errs, errors.New("config: operation timeout must be positive"))
	}
	return errors.Join(errs...)
}

// ParameterGetter reads a single parameter value, e.g. from SSM.
type ParameterGetter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// overlay is the YAML shape of ApplyOverlay. Numeric fields are pointers so
// an explicit zero is told apart from an absent key.
type overlay struct {
	Tables           Tables         `yaml:"tables"`
	Indexes          Indexes        `yaml:"indexes"`
	BatchSize        *int           `yaml:"batchSize"`
	MaxBatchRetries  *int           `yaml:"maxBatchRetries"`
	OperationTimeout *time.Duration `yaml:"operationTimeout"`
}

// ApplyOverlay merges a YAML document stored in the named parameter over c.
// Absent keys and empty names leave c unchanged.
func (c Config) ApplyOverlay(ctx context.Context, params ParameterGetter, name string) (Config, error) {
	raw, err := params.GetParameter(ctx, name)
	if err != nil {
		return c, fmt.Errorf("config: load overlay %q: %w", name, err)
	}
	var o overlay
	if err := yaml.Unmarshal([]byte(raw), &o); err != nil {
		return c, fmt.Errorf("config: parse overlay %q: %w", name, err)
	}
	merged := c.merge(o)
	return merged, merged.Validate()
}

func (c Config) merge(o overlay) Config {
	set := func(dst *string, v string) {
		if v = strings.TrimSpace(v); v != "" {
			*dst = v
		}
	}
	set(&c.Tables.MappingRequests, o.Tables.MappingRequests)
	set(&c.Tables.JournalAccessRequests, o.Tables.JournalAccessRequests)
	set(&c.Tables.AppointmentRequests, o.Tables.AppointmentRequests)
	set(&c.Tables.MappedTherapists, o.Tables.MappedTherapists)
	set(&c.Tables.SessionSlots, o.Tables.SessionSlots)
	set(&c.Tables.Sessions, o.Tables.Sessions)
	set(&c.Indexes.RequestCounterparty, o.Indexes.RequestCounterparty)
	set(&c.Indexes.TherapistClients, o.Indexes.TherapistClients)
	set(&c.Indexes.ClientSessions, o.Indexes.ClientSessions)
	if o.BatchSize != nil {
		c.BatchSize = *o.BatchSize
	}
	if o.MaxBatchRetries != nil {
		c.MaxBatchRetries = *o.MaxBatchRetries
	}
	if o.OperationTimeout != nil {
		c.OperationTimeout = *o.OperationTimeout
	}
	return c
}

func envString(lookup func(string) string, key, def string) string {
	if v := strings.TrimSpace(lookup(key)); v != "" {
		return v
	}
	return def
}

func envInt(lookup func(string) string, key string, def int) int {
	v := lookup(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envDuration(lookup func(string) string, key string, def time.Duration) time.Duration {
	v := lookup(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
