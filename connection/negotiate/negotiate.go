/*
The negotiate package drives the connection handshake: it writes the
protocol version, identifies the client with its merged feature request,
parses the daemon's capability response, and activates accepted
capabilities by swapping the transport in place.

The handshake runs strictly before the connection's reader loop starts, so
the negotiator is free to read replies synchronously and to replace the
transport without coordination.
*/
package negotiate

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	orderedmap "github.com/wk8/go-ordered-map"

	"github.com/quillmq/quillmq-go/connection/command"
	"github.com/quillmq/quillmq-go/connection/frame"
	"github.com/quillmq/quillmq-go/connection/transport"
	"github.com/quillmq/quillmq-go/logger"
)

const (
	DefaultVersion   = "v2"
	defaultUserAgent = "quillmq-go/1.0"

	// Capability names understood by the daemon. Snappy and deflate are
	// mutually exclusive; all three trigger a transport swap when accepted.
	FeatureNegotiation  = "feature_negotiation"
	FeatureSnappy       = "snappy"
	FeatureDeflate      = "deflate"
	FeatureTLS          = "tls_v1"
	FeatureDeflateLevel = "deflate_level"

	defaultDeflateLevel = 6
)

// NegotiationParseError indicates the daemon's capability response could
// not be parsed. Fatal to the handshake.
type NegotiationParseError struct {
	Err error
}

func (e *NegotiationParseError) Error() string {
	return fmt.Sprintf("malformed negotiation reply: %s", e.Err)
}

func (e *NegotiationParseError) Unwrap() error { return e.Err }

// FeatureEnforcementError indicates the daemon refused a capability the
// caller required. The connection is unusable and must be aborted.
type FeatureEnforcementError struct {
	Feature string
}

func (e *FeatureEnforcementError) Error() string {
	return fmt.Sprintf("daemon refused required capability: %s", e.Feature)
}

func (e *FeatureEnforcementError) Unwrap() error { return nil }

// Settings is the daemon's parsed capability-acceptance response. Read-only
// after the handshake.
type Settings map[string]any

func (s Settings) Bool(key string) bool {
	value, ok := s[key].(bool)
	return ok && value
}

func (s Settings) Int(key string) (int, bool) {
	// JSON numbers decode as float64
	value, ok := s[key].(float64)
	return int(value), ok
}

func (s Settings) String(key string) string {
	value, _ := s[key].(string)
	return value
}

type Options struct {
	// Protocol version token, left-padded to 4 bytes and upper-cased on
	// the wire. Defaults to DefaultVersion.
	Version string

	UserAgent string

	// Caller-requested capabilities, merged over the host defaults.
	Features map[string]any

	// When true, a requested enableable capability the daemon refuses
	// aborts the handshake.
	EnforceFeatures bool

	DeflateLevel int
	TLSConfig    *tls.Config
}

type Negotiator struct {
	logger *logger.Logger
	opts   Options
}

func New(logger *logger.Logger, opts Options) *Negotiator {
	return &Negotiator{
		logger: logger,
		opts:   opts,
	}
}

// Run performs the handshake over the given transport and returns the
// possibly-rewrapped transport along with the daemon's settings. On any
// error the transport is in an undefined state and the connection must be
// aborted; no partial negotiation state is retried.
func (n *Negotiator) Run(t transport.Transport) (transport.Transport, Settings, error) {
	merged := n.mergedFeatures()

	if featureBool(merged, FeatureSnappy) && featureBool(merged, FeatureDeflate) {
		return nil, nil, fmt.Errorf("%s and %s are mutually exclusive", FeatureSnappy, FeatureDeflate)
	}

	magic, err := versionMagic(n.opts.Version)
	if err != nil {
		return nil, nil, err
	}
	if _, err := t.Write(magic); err != nil {
		return nil, nil, fmt.Errorf("error writing protocol version: %w", err)
	}

	payload, err := json.Marshal(merged)
	if err != nil {
		return nil, nil, fmt.Errorf("error marshalling identify payload: %w", err)
	}
	if _, err := t.Write(command.Identify(payload).Serialize()); err != nil {
		return nil, nil, fmt.Errorf("error writing identify command: %w", err)
	}

	// The reader loop does not exist yet; this is the handshake's one
	// synchronous reply read.
	reply, err := frame.Read(t)
	if err != nil {
		return nil, nil, fmt.Errorf("error reading identify reply: %w", err)
	}
	if reply.Type == frame.TypeError {
		return nil, nil, fmt.Errorf("daemon rejected identify: %s", reply.Content())
	}

	if !featureBool(merged, FeatureNegotiation) {
		n.logger.Infof("Feature negotiation disabled, skipping capability activation")
		return t, Settings{}, nil
	}

	var settings Settings
	if err := json.Unmarshal(reply.Body, &settings); err != nil {
		return nil, nil, &NegotiationParseError{Err: err}
	}
	n.logger.Debugf("Daemon settings: %s", reply.Content())

	current := t
	for pair := n.activators().Oldest(); pair != nil; pair = pair.Next() {
		name := pair.Key.(string)
		activate := pair.Value.(activator)

		if settings.Bool(name) {
			next, err := activate(current, settings)
			if err != nil {
				return nil, nil, fmt.Errorf("error activating %s: %w", name, err)
			}
			current = next

			// Each swap is confirmed by one reply frame read through the
			// new layer; it validates the swap and is never enqueued.
			confirmation, err := frame.Read(current)
			if err != nil {
				return nil, nil, fmt.Errorf("error reading %s activation confirmation: %w", name, err)
			}
			if confirmation.Type != frame.TypeResponse {
				return nil, nil, fmt.Errorf("%s activation failed: %s", name, confirmation.Content())
			}
			n.logger.Infof("Activated %s (%s)", name, confirmation.Content())
		} else if featureBool(merged, name) && n.opts.EnforceFeatures {
			return nil, nil, &FeatureEnforcementError{Feature: name}
		}
	}

	return current, settings, nil
}

type activator func(transport.Transport, Settings) (transport.Transport, error)

// activators enumerates the enableable capabilities in their fixed
// activation order.
func (n *Negotiator) activators() *orderedmap.OrderedMap {
	activators := orderedmap.New()

	activators.Set(FeatureSnappy, activator(func(t transport.Transport, _ Settings) (transport.Transport, error) {
		return transport.WrapSnappy(t), nil
	}))

	activators.Set(FeatureDeflate, activator(func(t transport.Transport, settings Settings) (transport.Transport, error) {
		level := n.opts.DeflateLevel
		if level == 0 {
			level = defaultDeflateLevel
		}
		if accepted, ok := settings.Int(FeatureDeflateLevel); ok {
			level = accepted
		}
		return transport.WrapDeflate(t, level)
	}))

	activators.Set(FeatureTLS, activator(func(t transport.Transport, _ Settings) (transport.Transport, error) {
		config := n.opts.TLSConfig
		if config == nil {
			config = &tls.Config{}
		}
		return transport.WrapTLS(t, config), nil
	}))

	return activators
}

// mergedFeatures computes the host defaults at handshake time and lays the
// caller's requested features over them.
func (n *Negotiator) mergedFeatures() map[string]any {
	hostname, _ := os.Hostname()

	userAgent := n.opts.UserAgent
	if userAgent == "" {
		userAgent = defaultUserAgent
	}

	merged := map[string]any{
		"hostname":         hostname,
		"short_hostname":   strings.SplitN(hostname, ".", 2)[0],
		"user_agent":       userAgent,
		FeatureNegotiation: true,
	}
	for key, value := range n.opts.Features {
		merged[key] = value
	}
	return merged
}

func versionMagic(version string) ([]byte, error) {
	if version == "" {
		version = DefaultVersion
	}
	if len(version) > 4 {
		return nil, fmt.Errorf("protocol version %q longer than 4 bytes", version)
	}
	return []byte(fmt.Sprintf("%4s", strings.ToUpper(version))), nil
}

func featureBool(features map[string]any, key string) bool {
	value, ok := features[key].(bool)
	return ok && value
}
