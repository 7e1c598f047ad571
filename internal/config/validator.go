package config

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation error [%s]: %s", e.Field, e.Message)
}

// ValidationResult holds the results of configuration validation.
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationError
}

// IsValid returns true if there are no validation errors.
func (r *ValidationResult) IsValid() bool {
	return len(r.Errors) == 0
}

// AddError adds a validation error.
func (r *ValidationResult) AddError(field, message string) {
	r.Errors = append(r.Errors, ValidationError{Field: field, Message: message})
}

// AddWarning adds a validation warning.
func (r *ValidationResult) AddWarning(field, message string) {
	r.Warnings = append(r.Warnings, ValidationError{Field: field, Message: message})
}

// Validate performs comprehensive validation of the configuration.
func Validate(cfg *Config) *ValidationResult {
	result := &ValidationResult{}

	validateRelay(&cfg.Relay, result)
	validateApplicationData(&cfg.ApplicationData, result)

	return result
}

func validateRelay(relay *RelayConfig, result *ValidationResult) {
	if relay.ControlPort < 1 || relay.ControlPort > 65535 {
		result.AddError("relay.control_port", "must be between 1 and 65535")
	}
	if relay.DataPort < 1 || relay.DataPort > 65535 {
		result.AddError("relay.data_port", "must be between 1 and 65535")
	}
	if relay.ControlPort == relay.DataPort {
		result.AddError("relay.data_port", "control and data ports must differ")
	}

	if relay.SweepIntervalSec < 1 {
		result.AddError("relay.sweep_interval_sec", "must be at least 1 second")
	}
	if relay.IdleTimeoutSec < 1 {
		result.AddError("relay.idle_timeout_sec", "must be at least 1 second")
	}
	if relay.IdleTimeoutSec < relay.SweepIntervalSec {
		result.AddWarning("relay.idle_timeout_sec",
			"idle timeout is shorter than the sweep interval; participants may outlive the deadline by up to one sweep")
	}

	if relay.UDPBufferSize < 512 {
		result.AddWarning("relay.udp_buffer_size",
			fmt.Sprintf("small buffer (%d bytes) will truncate larger chat datagrams", relay.UDPBufferSize))
	}
}

func validateApplicationData(data *ApplicationData, result *ValidationResult) {
	if data.API.Enabled {
		if data.API.Port < 1 || data.API.Port > 65535 {
			result.AddError("api.port", "must be between 1 and 65535")
		}
	}

	if data.MQTT.Enabled {
		if strings.TrimSpace(data.MQTT.BrokerURL) == "" {
			result.AddError("mqtt.broker_url", "broker URL is required when MQTT is enabled")
		}
		if data.MQTT.Port < 1 || data.MQTT.Port > 65535 {
			result.AddError("mqtt.port", "must be between 1 and 65535")
		}
		if (data.MQTT.CertFile == "") != (data.MQTT.KeyFile == "") {
			result.AddError("mqtt.cert_file", "cert_file and key_file must be set together")
		}
	}

	if data.Journal.Enabled && strings.TrimSpace(data.Journal.Path) == "" {
		result.AddError("journal.path", "journal path is required when the journal is enabled")
	}

	if _, err := zerolog.ParseLevel(data.Logging.Level); err != nil {
		result.AddWarning("logging.level",
			fmt.Sprintf("unknown log level %q, falling back to info", data.Logging.Level))
	}
}
