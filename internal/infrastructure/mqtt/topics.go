package mqtt

import "fmt"

// Topic prefixes for identity traffic.
const (
	// TopicPrefixIdentity is the base for all identity service topics.
	TopicPrefixIdentity = "graylogic/identity"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "graylogic/system"
)

// Topics provides builders for identity MQTT topics.
//
//	topic := mqtt.Topics{}.IdentityEvent("login")
//	// Returns: "graylogic/identity/event/login"
type Topics struct{}

// IdentityEvent returns the topic for one kind of identity event.
//
// Example: graylogic/identity/event/logout_all
func (Topics) IdentityEvent(kind string) string {
	return fmt.Sprintf("%s/event/%s", TopicPrefixIdentity, kind)
}

// ServiceStatus returns the retained online/offline topic of a client.
//
// Example: graylogic/system/status/graylogic-identity
func (Topics) ServiceStatus(clientID string) string {
	return fmt.Sprintf("%s/status/%s", TopicPrefixSystem, clientID)
}

// AllIdentityEvents returns a pattern matching every identity event.
//
// Pattern: graylogic/identity/event/+
func (Topics) AllIdentityEvents() string {
	return fmt.Sprintf("%s/event/+", TopicPrefixIdentity)
}
