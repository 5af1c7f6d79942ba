package response

// VerifyStatus is the EstadoSolicitud of a submitted export
type VerifyStatus int

const (
	StatusUnknown VerifyStatus = iota
	StatusAccepted
	StatusInProgress
	StatusReady
	StatusFailed
	// StatusRejected means the export exceeded the volume limit
	StatusRejected
	StatusExpired
)

// ParseVerifyStatus maps the authority's numeric state
func ParseVerifyStatus(s string) VerifyStatus {
	switch s {
	case "1":
		return StatusAccepted
	case "2":
		return StatusInProgress
	case "3":
		return StatusReady
	case "4":
		return StatusFailed
	case "5":
		return StatusRejected
	case "6":
		return StatusExpired
	default:
		return StatusUnknown
	}
}

func (s VerifyStatus) String() string {
	switch s {
	case StatusAccepted:
		return "accepted"
	case StatusInProgress:
		return "in-progress"
	case StatusReady:
		return "ready"
	case StatusFailed:
		return "failed"
	case StatusRejected:
		return "volume-exceeded"
	case StatusExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// Terminal reports whether the export will never become ready
func (s VerifyStatus) Terminal() bool {
	return s == StatusFailed || s == StatusRejected || s == StatusExpired
}
