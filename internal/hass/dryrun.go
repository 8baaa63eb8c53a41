package hass

import "go.uber.org/zap"

// DryRunClient wraps a Client and suppresses all writes, logging what it
// would have done. Reads and subscriptions pass through unchanged.
type DryRunClient struct {
	inner  Client
	logger *zap.Logger
}

// NewDryRunClient wraps inner in a write-suppressing client.
func NewDryRunClient(inner Client, logger *zap.Logger) *DryRunClient {
	return &DryRunClient{inner: inner, logger: logger.Named("dryrun")}
}

func (d *DryRunClient) Connect() error    { return d.inner.Connect() }
func (d *DryRunClient) Disconnect() error { return d.inner.Disconnect() }
func (d *DryRunClient) IsConnected() bool { return d.inner.IsConnected() }

func (d *DryRunClient) GetState(entityID string) (*State, error) {
	return d.inner.GetState(entityID)
}

func (d *DryRunClient) CallService(domain, service string, data map[string]any) error {
	d.logger.Info("DRY RUN: would call service",
		zap.String("domain", domain),
		zap.String("service", service),
		zap.Any("data", data))
	return nil
}

func (d *DryRunClient) ControlEntity(entityID, domain, service, valueKey string, value any) error {
	d.logger.Info("DRY RUN: would control entity",
		zap.String("entity_id", entityID),
		zap.String("domain", domain),
		zap.String("service", service),
		zap.String("value_key", valueKey),
		zap.Any("value", value))
	return nil
}

func (d *DryRunClient) SubscribeStateChanged(entityID string, handler StateChangeHandler) (Subscription, error) {
	return d.inner.SubscribeStateChanged(entityID, handler)
}
