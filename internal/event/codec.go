package event

import (
	"encoding/json"
	"fmt"
)

// wireNotification is the tagged JSON form used in the event log and on NATS.
type wireNotification struct {
	Kind string          `json:"kind"`
	Data json.RawMessage `json:"data"`
}

// MarshalNotifications encodes notifications as a tagged JSON array.
func MarshalNotifications(ns []Notification) ([]byte, error) {
	wire := make([]wireNotification, 0, len(ns))
	for _, n := range ns {
		data, err := json.Marshal(n)
		if err != nil {
			return nil, fmt.Errorf("marshal %s: %w", n.Kind(), err)
		}
		wire = append(wire, wireNotification{Kind: n.Kind().String(), Data: data})
	}
	return json.Marshal(wire)
}

// UnmarshalNotifications decodes the output of MarshalNotifications.
func UnmarshalNotifications(data []byte) ([]Notification, error) {
	var wire []wireNotification
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("unmarshal notifications: %w", err)
	}

	out := make([]Notification, 0, len(wire))
	for _, w := range wire {
		n, err := decodeNotification(w.Kind, w.Data)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

// MarshalNotification encodes a single notification in its tagged form.
func MarshalNotification(n Notification) ([]byte, error) {
	data, err := json.Marshal(n)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", n.Kind(), err)
	}
	return json.Marshal(wireNotification{Kind: n.Kind().String(), Data: data})
}

func decodeNotification(kind string, data json.RawMessage) (Notification, error) {
	var n Notification
	switch kind {
	case KindEventCreated.String():
		n = &EventCreated{}
	case KindPredictionPlaced.String():
		n = &PredictionPlaced{}
	case KindEventResolved.String():
		n = &EventResolved{}
	case KindEventCancelled.String():
		n = &EventCancelled{}
	case KindPayoutClaimed.String():
		n = &PayoutClaimed{}
	case KindPlatformFeeCollected.String():
		n = &PlatformFeeCollected{}
	case KindPlatformFeeWithdrawn.String():
		n = &PlatformFeeWithdrawn{}
	case KindCreatorFeeWithdrawn.String():
		n = &CreatorFeeWithdrawn{}
	case KindUnclaimedWinningsCollected.String():
		n = &UnclaimedWinningsCollected{}
	case KindOracleRegistered.String():
		n = &OracleRegistered{}
	case KindOracleDeregistered.String():
		n = &OracleDeregistered{}
	case KindOwnershipTransferred.String():
		n = &OwnershipTransferred{}
	default:
		return nil, fmt.Errorf("unknown notification kind: %s", kind)
	}

	if err := json.Unmarshal(data, n); err != nil {
		return nil, fmt.Errorf("unmarshal %s: %w", kind, err)
	}
	return deref(n), nil
}

// deref returns value notifications so decoded records compare equal to emitted ones.
func deref(n Notification) Notification {
	switch v := n.(type) {
	case *EventCreated:
		return *v
	case *PredictionPlaced:
		return *v
	case *EventResolved:
		return *v
	case *EventCancelled:
		return *v
	case *PayoutClaimed:
		return *v
	case *PlatformFeeCollected:
		return *v
	case *PlatformFeeWithdrawn:
		return *v
	case *CreatorFeeWithdrawn:
		return *v
	case *UnclaimedWinningsCollected:
		return *v
	case *OracleRegistered:
		return *v
	case *OracleDeregistered:
		return *v
	case *OwnershipTransferred:
		return *v
	}
	return n
}
