package protocol

import (
	"fmt"
	"sort"

	"github.com/hearthd/hearth-core/internal/infrastructure/config"
	"github.com/hearthd/hearth-core/internal/infrastructure/mqtt"
)

// Deps carries the shared dependencies handlers are built from. MQTT may
// be nil when the broker is unreachable; handlers that need it fail at
// Start rather than at construction.
type Deps struct {
	Config *config.Config
	Bus    EventSink
	Logger Logger
	MQTT   *mqtt.Client
}

// Factory constructs a handler from shared dependencies.
type Factory func(deps Deps) (Handler, error)

// factories maps registry names to constructors. The set is fixed at
// compile time; config selects which of them the hub instantiates.
var factories = map[string]Factory{
	"mqtt":      newMQTTHandler,
	"wifi":      newWiFiHandler,
	"bluetooth": newBluetoothHandler,
	"zigbee":    newZigbeeHandler,
	"zwave":     newZWaveHandler,
	"matter":    newMatterHandler,
	"tuya":      newTuyaHandler,
	"govee":     newGoveeHandler,
	"gosung":    newGosungHandler,
}

// Available returns the registered protocol names, sorted.
func Available() []string {
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Build constructs the handler registered under name. Unregistered names
// return ErrUnknownProtocol so the caller can warn and skip.
func Build(name string, deps Deps) (Handler, error) {
	factory, ok := factories[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProtocol, name)
	}
	if deps.Logger == nil {
		deps.Logger = noopLogger{}
	}
	return factory(deps)
}
