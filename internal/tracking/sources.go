package tracking

import (
	"errors"
	"fmt"

	"backend-runhub/internal/config"
	"backend-runhub/internal/run"
	"backend-runhub/internal/sensor"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// SourceDeps are the connections a SourceFactory may draw on. Any of them
// may be nil when the configured source does not need it.
type SourceDeps struct {
	Redis  *redis.Client
	MQTT   sensor.Subscriber
	Logger *zap.Logger
}

// NewSourceFactory picks the sensor source named by cfg.SensorSource.
func NewSourceFactory(cfg config.Config, deps SourceDeps) (SourceFactory, error) {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	switch cfg.SensorSource {
	case config.SourcePush, "":
		size := cfg.IngestBuffer
		return func(string) (run.SensorSource, error) {
			return sensor.NewPushSource(size), nil
		}, nil

	case config.SourceRedis:
		if deps.Redis == nil {
			return nil, errors.New("redis sensor source needs REDIS_ADDR")
		}
		return func(runID string) (run.SensorSource, error) {
			return sensor.NewRedisSource(deps.Redis, runID, logger.With(zap.String("run_id", runID))), nil
		}, nil

	case config.SourceMQTT:
		if deps.MQTT == nil {
			return nil, errors.New("mqtt sensor source needs a broker connection")
		}
		return func(runID string) (run.SensorSource, error) {
			topic := sensor.TopicFor(cfg.MQTTTopic, runID)
			return sensor.NewMQTTSource(deps.MQTT, topic, logger.With(zap.String("run_id", runID))), nil
		}, nil

	case config.SourceSimulated:
		script, err := sensor.LoadScript(cfg.SimScript)
		if err != nil {
			return nil, fmt.Errorf("load simulation script: %w", err)
		}
		return func(string) (run.SensorSource, error) {
			return sensor.NewSimulatedSource(script), nil
		}, nil

	default:
		return nil, fmt.Errorf("unknown sensor source %q", cfg.SensorSource)
	}
}

// SessionOptions maps config onto run.Session options.
func SessionOptions(cfg config.Config) []run.Option {
	opts := []run.Option{
		run.WithTickInterval(cfg.TickInterval),
		run.WithBufferSize(cfg.SnapshotBuffer),
	}
	if cfg.ExtendedStats {
		opts = append(opts, run.WithExtendedStats(run.DefaultPaceZones))
	}
	return opts
}
