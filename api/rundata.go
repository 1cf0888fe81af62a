package api

// EpochData contains measurement information for one epoch (streaming version)
type EpochData struct {
	Epoch int `json:"epoch"`

	WallMillis int64   `json:"wall_ms"`
	Rate       float64 `json:"rate"`
	Cost       float64 `json:"cost"`

	MemoryMiB float64 `json:"mem_mib"`
}
