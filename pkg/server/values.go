package server

import "encoding/json"

// Session values are application key/value state attached to the session.
// They ride along in the persisted snapshot, so a view factory can rebuild
// its state after a reconnect or a server restart. Values must be
// JSON-serializable; anything that fails to marshal is silently dropped
// from snapshots.

// Set stores a value on the session.
func (s *Session) Set(key string, value any) {
	s.dataMu.Lock()
	defer s.dataMu.Unlock()
	if s.data == nil {
		s.data = make(map[string]any)
	}
	s.data[key] = value
}

// Get returns the value stored under key, or nil.
func (s *Session) Get(key string) any {
	s.dataMu.RLock()
	defer s.dataMu.RUnlock()
	return s.data[key]
}

// GetString returns the value under key as a string, or "".
func (s *Session) GetString(key string) string {
	if v, ok := s.Get(key).(string); ok {
		return v
	}
	return ""
}

// GetInt returns the value under key as an int, or 0. Values restored from
// a snapshot come back as float64 and are converted.
func (s *Session) GetInt(key string) int {
	switch v := s.Get(key).(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

// Delete removes the value stored under key.
func (s *Session) Delete(key string) {
	s.dataMu.Lock()
	defer s.dataMu.Unlock()
	delete(s.data, key)
}

// valuesSnapshot marshals the value store for persistence.
func (s *Session) valuesSnapshot() map[string]json.RawMessage {
	s.dataMu.RLock()
	defer s.dataMu.RUnlock()
	if len(s.data) == 0 {
		return nil
	}
	values := make(map[string]json.RawMessage, len(s.data))
	for k, v := range s.data {
		b, err := json.Marshal(v)
		if err != nil {
			continue
		}
		values[k] = b
	}
	return values
}

// restoreValues merges persisted values into the store.
func (s *Session) restoreValues(values map[string]json.RawMessage) {
	if len(values) == 0 {
		return
	}
	s.dataMu.Lock()
	defer s.dataMu.Unlock()
	if s.data == nil {
		s.data = make(map[string]any, len(values))
	}
	for k, raw := range values {
		var v any
		if err := json.Unmarshal(raw, &v); err == nil {
			s.data[k] = v
		}
	}
}
