package state

// Trigger represents an event that causes a state transition.
type Trigger string

const (
	TriggerRegister           Trigger = "register"
	TriggerUnsupported        Trigger = "unsupported"
	TriggerRegistrationFailed Trigger = "registration_failed"
	TriggerUpdateFound        Trigger = "update_found"
	TriggerInstalledFresh     Trigger = "installed_fresh"
	TriggerInstalledWaiting   Trigger = "installed_waiting"
	TriggerUpdateDiscarded    Trigger = "update_discarded"
	TriggerWaitingResumed     Trigger = "waiting_resumed"
	TriggerApply              Trigger = "apply"
	TriggerApplyFailed        Trigger = "apply_failed"
	TriggerControllerChanged  Trigger = "controller_changed"
)

// String returns the string representation of the trigger.
func (t Trigger) String() string {
	return string(t)
}
