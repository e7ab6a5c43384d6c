package wsserver

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/vircadia/worldsync/internal/core/domain"
)

// FrameType tags every frame on the wire.
type FrameType string

// Client-to-server frame tags.
const (
	FrameHeartbeat     FrameType = "HEARTBEAT"
	FrameConfigRequest FrameType = "CONFIG_REQUEST"
	FrameQuery         FrameType = "QUERY"
	FrameSubscribe     FrameType = "SUBSCRIBE"
	FrameUnsubscribe   FrameType = "UNSUBSCRIBE"
)

// Server-to-client frame tags.
const (
	FrameConnectionEstablished    FrameType = "CONNECTION_ESTABLISHED"
	FrameHeartbeatAck             FrameType = "HEARTBEAT_ACK"
	FrameConfigResponse           FrameType = "CONFIG_RESPONSE"
	FrameQueryResponse            FrameType = "QUERY_RESPONSE"
	FrameSubscribeResponse        FrameType = "SUBSCRIBE_RESPONSE"
	FrameUnsubscribeResponse      FrameType = "UNSUBSCRIBE_RESPONSE"
	FrameSyncGroupUpdates         FrameType = "SYNC_GROUP_UPDATES_RESPONSE"
	FrameNotificationEntity       FrameType = "NOTIFICATION_ENTITY_UPDATE"
	FrameNotificationEntityScript FrameType = "NOTIFICATION_ENTITY_SCRIPT_UPDATE"
	FrameNotificationEntityAsset  FrameType = "NOTIFICATION_ENTITY_ASSET_UPDATE"
	FrameError                    FrameType = "ERROR"
)

// InboundFrame is the decoded union of every client frame. Which
// fields are meaningful depends on Type.
type InboundFrame struct {
	Type FrameType `json:"type"`

	// QUERY
	RequestID  string `json:"request_id,omitempty"`
	Query      string `json:"query,omitempty"`
	Parameters []any  `json:"parameters,omitempty"`

	// SUBSCRIBE / UNSUBSCRIBE
	Channel string `json:"channel,omitempty"`
}

// DecodeInbound parses a client frame. Unknown tags and unparseable
// JSON are protocol violations; the caller answers with an ERROR frame
// and close code 1008.
func DecodeInbound(raw []byte) (*InboundFrame, error) {
	var f InboundFrame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, domain.ErrProtocolViolation.WithDetails("unparseable frame").WithCause(err)
	}

	switch f.Type {
	case FrameHeartbeat, FrameConfigRequest, FrameQuery, FrameSubscribe, FrameUnsubscribe:
		return &f, nil
	case "":
		return nil, domain.ErrProtocolViolation.WithDetails("frame has no type")
	default:
		return nil, domain.ErrProtocolViolation.WithDetails(fmt.Sprintf("unknown frame type %q", f.Type))
	}
}

type connectionEstablishedFrame struct {
	Type    FrameType `json:"type"`
	AgentID string    `json:"agent_id"`
}

// EncodeConnectionEstablished is the first frame after upgrade.
func EncodeConnectionEstablished(agentID string) ([]byte, error) {
	return json.Marshal(connectionEstablishedFrame{
		Type:    FrameConnectionEstablished,
		AgentID: agentID,
	})
}

type tagOnlyFrame struct {
	Type FrameType `json:"type"`
}

// EncodeHeartbeatAck answers a client heartbeat.
func EncodeHeartbeatAck() ([]byte, error) {
	return json.Marshal(tagOnlyFrame{Type: FrameHeartbeatAck})
}

// ConfigPayload is the CONFIG_RESPONSE body, served from live server
// configuration.
type ConfigPayload struct {
	Heartbeat struct {
		IntervalMs int64 `json:"interval"`
		TimeoutMs  int64 `json:"timeout"`
	} `json:"heartbeat"`
	Session struct {
		MaxAgeMs          int64 `json:"max_age_ms"`
		CleanupIntervalMs int64 `json:"cleanup_interval_ms"`
		InactiveTimeoutMs int64 `json:"inactive_timeout_ms"`
	} `json:"session"`
}

type configResponseFrame struct {
	Type FrameType `json:"type"`
	ConfigPayload
}

// EncodeConfigResponse answers a CONFIG_REQUEST.
func EncodeConfigResponse(p ConfigPayload) ([]byte, error) {
	return json.Marshal(configResponseFrame{Type: FrameConfigResponse, ConfigPayload: p})
}

type queryResponseFrame struct {
	Type      FrameType        `json:"type"`
	RequestID string           `json:"request_id"`
	Result    []map[string]any `json:"result,omitempty"`
	Error     string           `json:"error,omitempty"`
}

// EncodeQueryResponse is the single response to one QUERY frame.
func EncodeQueryResponse(requestID string, rows []map[string]any, err error) ([]byte, error) {
	f := queryResponseFrame{
		Type:      FrameQueryResponse,
		RequestID: requestID,
		Result:    rows,
	}
	if err != nil {
		f.Error = err.Error()
		f.Result = nil
	}
	return json.Marshal(f)
}

type subscribeResponseFrame struct {
	Type    FrameType `json:"type"`
	Channel string    `json:"channel"`
	Success bool      `json:"success"`
	Error   string    `json:"error,omitempty"`
}

// EncodeSubscribeResponse answers a SUBSCRIBE frame.
func EncodeSubscribeResponse(channel string, err error) ([]byte, error) {
	f := subscribeResponseFrame{
		Type:    FrameSubscribeResponse,
		Channel: channel,
		Success: err == nil,
	}
	if err != nil {
		f.Error = err.Error()
	}
	return json.Marshal(f)
}

type unsubscribeResponseFrame struct {
	Type    FrameType `json:"type"`
	Channel string    `json:"channel"`
	Success bool      `json:"success"`
}

// EncodeUnsubscribeResponse answers an UNSUBSCRIBE frame. Unsubscribe
// is idempotent so success is always true.
func EncodeUnsubscribeResponse(channel string) ([]byte, error) {
	return json.Marshal(unsubscribeResponseFrame{
		Type:    FrameUnsubscribeResponse,
		Channel: channel,
		Success: true,
	})
}

type tickSummary struct {
	Number     int64     `json:"number"`
	StartTime  time.Time `json:"start_time"`
	DurationMs float64   `json:"duration_ms"`
	Delayed    bool      `json:"delayed"`
}

type changeEntry struct {
	ID        string                     `json:"entity_id"`
	Operation domain.Operation           `json:"operation"`
	Changes   map[string]json.RawMessage `json:"changes"`
}

type syncGroupUpdatesFrame struct {
	Type      FrameType     `json:"type"`
	SyncGroup string        `json:"sync_group"`
	Tick      tickSummary   `json:"tick"`
	Entities  []changeEntry `json:"entities,omitempty"`
	Scripts   []changeEntry `json:"scripts,omitempty"`
	Assets    []changeEntry `json:"assets,omitempty"`
}

func changeEntries(changes []domain.Change) []changeEntry {
	if len(changes) == 0 {
		return nil
	}
	out := make([]changeEntry, len(changes))
	for i, c := range changes {
		out[i] = changeEntry{
			ID:        c.ID,
			Operation: c.Operation,
			Changes:   c.Fields,
		}
	}
	return out
}

// EncodeChangeSet serialises a tick change set as one
// SYNC_GROUP_UPDATES_RESPONSE frame.
func EncodeChangeSet(cs *domain.ChangeSet) ([]byte, error) {
	f := syncGroupUpdatesFrame{
		Type:      FrameSyncGroupUpdates,
		SyncGroup: cs.SyncGroup,
		Entities:  changeEntries(cs.Entities),
		Scripts:   changeEntries(cs.Scripts),
		Assets:    changeEntries(cs.Assets),
	}
	f.Tick.Number = cs.TickNumber
	if cs.Tick != nil {
		f.Tick.StartTime = cs.Tick.StartTime
		f.Tick.DurationMs = cs.Tick.DurationMs
		f.Tick.Delayed = cs.Tick.Delayed
	}
	return json.Marshal(f)
}

type notificationChanges struct {
	Operation domain.Operation `json:"operation"`
	SyncGroup string           `json:"sync_group"`
	Timestamp time.Time        `json:"timestamp"`
	AgentID   string           `json:"agent_id"`
}

type notificationFrame struct {
	Type     FrameType           `json:"type"`
	EntityID string              `json:"entity_id"`
	Changes  notificationChanges `json:"changes"`
}

// EncodeNotification serialises a store notification for the session
// it belongs to.
func EncodeNotification(n domain.Notification) ([]byte, error) {
	tag := FrameNotificationEntity
	switch n.Kind {
	case domain.ResourceScript:
		tag = FrameNotificationEntityScript
	case domain.ResourceAsset:
		tag = FrameNotificationEntityAsset
	}

	return json.Marshal(notificationFrame{
		Type:     tag,
		EntityID: n.ID,
		Changes: notificationChanges{
			Operation: n.Operation,
			SyncGroup: n.SyncGroup,
			Timestamp: n.Timestamp,
			AgentID:   n.AgentID,
		},
	})
}

type errorFrame struct {
	Type    FrameType `json:"type"`
	Message string    `json:"message"`
}

// EncodeError is the terminal frame before a protocol-violation close.
func EncodeError(message string) ([]byte, error) {
	return json.Marshal(errorFrame{Type: FrameError, Message: message})
}
