package mqttcm

import (
	"fmt"
	"net/url"
	"strings"

	"go.ntppool.org/srvmon/client/description"
)

type MQTTTopics struct {
	prefix string
}

// NewTopics returns the topic layout under prefix, for example "/prod/srvmon".
func NewTopics(prefix string) *MQTTTopics {
	return &MQTTTopics{prefix: "/" + strings.Trim(prefix, "/")}
}

func (t *MQTTTopics) Status(name string) string {
	return fmt.Sprintf("%s/status/%s", t.prefix, name)
}

// Server is the topic for the description of one monitored server.
func (t *MQTTTopics) Server(name string, addr description.Address) string {
	return fmt.Sprintf("%s/servers/%s/%s", t.prefix, name, url.PathEscape(addr.String()))
}
