package types

import "encoding/json"

// QueryKeysRequest is the body of POST /keys/query.
type QueryKeysRequest struct {
	DeviceKeys map[UserID][]DeviceID `json:"device_keys"`
	Token      SyncToken             `json:"token,omitempty"`
	Timeout    int                   `json:"timeout,omitempty"`
}

// QueryKeysResponse is the result of a bulk device key query. Failures maps
// a remote homeserver name to the error object it produced; users on those
// servers are absent from DeviceKeys.
type QueryKeysResponse struct {
	Failures   map[string]json.RawMessage          `json:"failures,omitempty"`
	DeviceKeys map[UserID]map[DeviceID]*DeviceKeys `json:"device_keys"`
}

// UploadKeysRequest is the body of POST /keys/upload.
type UploadKeysRequest struct {
	DeviceKeys  *DeviceKeys           `json:"device_keys,omitempty"`
	OneTimeKeys map[string]OneTimeKey `json:"one_time_keys,omitempty"`
}

// UploadKeysResponse reports the server-side one-time key counts after an
// upload.
type UploadKeysResponse struct {
	OneTimeKeyCounts map[KeyAlgorithm]int `json:"one_time_key_counts"`
}
