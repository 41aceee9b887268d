package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// New はイベントを生成する。dataはJSONに変換してDataに格納する。
// aggregateIDとeventTypeは空にできない。
func New(aggregateID string, aggregateType AggregateType, eventType Type, data any) (*Event, error) {
	if aggregateID == "" {
		return nil, errors.New("イベントの対象IDが空です")
	}
	if eventType == "" {
		return nil, errors.New("イベントの種類が空です")
	}

	payload, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("%s のデータをJSONに変換できません: %w", eventType, err)
	}

	return &Event{
		ID:            uuid.NewString(),
		AggregateID:   aggregateID,
		AggregateType: aggregateType,
		EventType:     eventType,
		Data:          payload,
		CreatedAt:     time.Now().UTC(),
	}, nil
}

// Decode はイベントのDataをTとして読み取る。購読側と各サービスのテストで使う。
func Decode[T any](e *Event) (T, error) {
	var v T
	if err := json.Unmarshal(e.Data, &v); err != nil {
		return v, fmt.Errorf("%s のデータを読み取れません: %w", e.EventType, err)
	}
	return v, nil
}
