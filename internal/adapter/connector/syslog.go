package connector

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/V4T54L/siem-forwarder/internal/adapter/format"
	"github.com/V4T54L/siem-forwarder/internal/adapter/transport/syslog"
	"github.com/V4T54L/siem-forwarder/internal/domain"
	"github.com/V4T54L/siem-forwarder/internal/pkg/config"
)

const syslogName = "syslog"

func init() {
	Register(syslogName, func(cfg *config.Config, deps Dependencies) (domain.Sink, error) {
		if !cfg.Syslog.Enabled {
			return nil, nil
		}
		return NewSyslogFromConfig(cfg.Syslog, deps.Logger)
	})
}

// Syslog encodes each event in the configured wire format and sends it as
// its own message. Every event is accounted for individually.
type Syslog struct {
	host    string
	encoder domain.Encoder
	sender  syslog.Sender
	logger  *slog.Logger
}

// NewSyslogFromConfig resolves the configured format and protocol.
func NewSyslogFromConfig(cfg config.SyslogConfig, logger *slog.Logger) (*Syslog, error) {
	f, err := format.ParseFormat(cfg.Format)
	if err != nil {
		return nil, err
	}
	encoder, err := format.New(f, format.SyslogOptions{Facility: cfg.Facility, AppName: cfg.AppName})
	if err != nil {
		return nil, err
	}
	protocol, err := syslog.ParseProtocol(cfg.Protocol)
	if err != nil {
		return nil, err
	}

	var sender syslog.Sender
	if cfg.Host != "" {
		sender, err = syslog.NewSender(protocol, cfg.Host, cfg.Port, cfg.TLSVerify)
		if err != nil {
			return nil, err
		}
	}
	return NewSyslog(cfg.Host, encoder, sender, logger), nil
}

// NewSyslog creates a syslog sink. A nil sender leaves it unconfigured.
func NewSyslog(host string, encoder domain.Encoder, sender syslog.Sender, logger *slog.Logger) *Syslog {
	return &Syslog{
		host:    host,
		encoder: encoder,
		sender:  sender,
		logger:  logger.With("component", "syslog_sink"),
	}
}

func (s *Syslog) Name() string { return syslogName }

func (s *Syslog) IsConfigured() bool {
	return s.host != "" && s.sender != nil && s.encoder != nil
}

func (s *Syslog) Deliver(ctx context.Context, events []domain.SecurityEvent) domain.Result {
	if !s.IsConfigured() {
		return domain.NotConfiguredResult(len(events), syslogName)
	}

	result := domain.Result{Success: true}
	for _, e := range events {
		line := s.encoder.Encode(e)
		if err := s.sender.Send(ctx, line); err != nil {
			result.Add(domain.FailedResult(1, &domain.TransportError{
				Sink: syslogName,
				Op:   fmt.Sprintf("%s send %s", s.sender.Protocol(), e.ID),
				Err:  err,
			}))
			continue
		}
		result.Add(domain.SuccessResult(1))
	}

	if result.FailedCount > 0 {
		s.logger.Warn("syslog delivery incomplete", "host", s.host, "protocol", s.sender.Protocol(), "failed", result.FailedCount, "total", len(events))
	}
	return result
}
