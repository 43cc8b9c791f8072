package subscription

type State int32

const (
	StateIdle State = iota
	StateSettingUp
	StateSubscribed
	StateRetrying
	StateCircuitOpen
	StateTornDown
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSettingUp:
		return "setting_up"
	case StateSubscribed:
		return "subscribed"
	case StateRetrying:
		return "retrying"
	case StateCircuitOpen:
		return "circuit_open"
	case StateTornDown:
		return "torn_down"
	default:
		return "unknown"
	}
}
