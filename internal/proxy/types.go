// internal/proxy/types.go
package proxy

import (
	"net/url"
	"time"
)

// ProxyType represents the type of proxy
type ProxyType string

const (
	ProxyTypeHTTP   ProxyType = "http"
	ProxyTypeHTTPS  ProxyType = "https"
	ProxyTypeSOCKS5 ProxyType = "socks5"
)

// RotationStrategy defines how proxies are rotated
type RotationStrategy string

const (
	RotationRoundRobin RotationStrategy = "round_robin"
	RotationRandom     RotationStrategy = "random"
	RotationWeighted   RotationStrategy = "weighted"
)

const (
	DefaultFailureThreshold = 3
	DefaultRecoverySeconds  = 300
)

// Config routes outbound HTTP through a set of proxies
type Config struct {
	Enabled  bool             `yaml:"enabled" json:"enabled"`
	Rotation RotationStrategy `yaml:"rotation" json:"rotation" validate:"omitempty,oneof=round_robin random weighted"`

	// A proxy failing FailureThreshold times in a row sits out RecoverySeconds
	FailureThreshold int     `yaml:"failure_threshold" json:"failure_threshold" validate:"gte=0"`
	RecoverySeconds  float64 `yaml:"recovery_seconds" json:"recovery_seconds" validate:"gte=0"`

	Providers []Provider `yaml:"providers" json:"providers" validate:"required_if=Enabled true,dive"`
}

// Provider is one proxy endpoint
type Provider struct {
	Name     string    `yaml:"name" json:"name"`
	Type     ProxyType `yaml:"type" json:"type" validate:"omitempty,oneof=http https socks5"`
	Host     string    `yaml:"host" json:"host" validate:"required"`
	Port     int       `yaml:"port" json:"port" validate:"gte=1,lte=65535"`
	Username string    `yaml:"username,omitempty" json:"username,omitempty"`
	Password string    `yaml:"password,omitempty" json:"password,omitempty"`
	Weight   int       `yaml:"weight,omitempty" json:"weight,omitempty" validate:"gte=0"`
}

// Stat is the observable state of one proxy
type Stat struct {
	Name          string     `json:"name"`
	URL           string     `json:"url"`
	Healthy       bool       `json:"healthy"`
	Uses          int64      `json:"uses"`
	Failures      int64      `json:"failures"`
	DisabledUntil *time.Time `json:"disabled_until,omitempty"`
}

type instance struct {
	name          string
	url           *url.URL
	weight        int
	streak        int
	disabledUntil time.Time
	uses          int64
	failures      int64
}
