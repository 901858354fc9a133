package events

import (
	"encoding/json"
	"fmt"
)

// Name returns the wire event name used on the SSE stream
func Name(msg any) (string, bool) {
	switch msg.(type) {
	case JobStartedMsg:
		return "started", true
	case SelectionMsg:
		return "selection", true
	case ProgressMsg:
		return "progress", true
	case ItemFailedMsg:
		return "item_failed", true
	case JobCompleteMsg:
		return "complete", true
	case JobErrorMsg:
		return "error", true
	case JobResetMsg:
		return "reset", true
	case NoticeMsg:
		return "notice", true
	default:
		return "", false
	}
}

// Decode rebuilds a message from its wire name and JSON payload
func Decode(name string, data []byte) (any, error) {
	var (
		msg any
		err error
	)
	switch name {
	case "started":
		var m JobStartedMsg
		err = json.Unmarshal(data, &m)
		msg = m
	case "selection":
		var m SelectionMsg
		err = json.Unmarshal(data, &m)
		msg = m
	case "progress":
		var m ProgressMsg
		err = json.Unmarshal(data, &m)
		msg = m
	case "item_failed":
		var m ItemFailedMsg
		err = json.Unmarshal(data, &m)
		msg = m
	case "complete":
		var m JobCompleteMsg
		err = json.Unmarshal(data, &m)
		msg = m
	case "error":
		var m JobErrorMsg
		err = json.Unmarshal(data, &m)
		msg = m
	case "reset":
		var m JobResetMsg
		err = json.Unmarshal(data, &m)
		msg = m
	case "notice":
		var m NoticeMsg
		err = json.Unmarshal(data, &m)
		msg = m
	default:
		return nil, fmt.Errorf("unknown event %q", name)
	}
	if err != nil {
		return nil, err
	}
	return msg, nil
}
