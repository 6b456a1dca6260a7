package roomchat

type MembershipState int8

const (
	Unjoined MembershipState = iota
	Joined
)

func (s MembershipState) String() string {
	switch s {
	case Unjoined:
		return "Unjoined"
	case Joined:
		return "Joined"
	default:
		return "Unknown"
	}
}
