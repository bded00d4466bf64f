package coordinator

// Health is the coordinator's view of one worker
// Degraded is never terminal; the next successful exchange restores Healthy
type Health uint8

const (
	Healthy Health = iota
	Degraded
)

func (h Health) String() string {
	if h == Degraded {
		return "degraded"
	}
	return "healthy"
}

// Fallback decides what happens to a chunk whose worker failed this tick
type Fallback uint8

const (
	// FallbackFreeze leaves the chunk in its pre-tick state
	FallbackFreeze Fallback = iota
	// FallbackLocal steps the chunk on the master
	FallbackLocal
)

func (f Fallback) String() string {
	if f == FallbackLocal {
		return "local"
	}
	return "freeze"
}

// ParseFallback accepts "freeze" or "local"
func ParseFallback(name string) (Fallback, bool) {
	switch name {
	case "freeze", "":
		return FallbackFreeze, true
	case "local":
		return FallbackLocal, true
	}
	return FallbackFreeze, false
}
