package lifecycle

import (
	"github.com/ihiteshgupta/pwa-lifecycle/internal/network"
	"github.com/ihiteshgupta/pwa-lifecycle/internal/platform"
	"github.com/ihiteshgupta/pwa-lifecycle/internal/state"
)

// Snapshot is one consistent view of the app's lifecycle. It is a value;
// consumers never see it change after they receive it.
type Snapshot struct {
	IsInstallable           bool                   `json:"isInstallable"`
	IsInstalled             bool                   `json:"isInstalled"`
	IsOffline               bool                   `json:"isOffline"`
	IsSlowConnection        bool                   `json:"isSlowConnection"`
	ConnectionType          network.ConnectionType `json:"connectionType"`
	IsUpdateAvailable       bool                   `json:"isUpdateAvailable"`
	HasPendingInstallAction bool                   `json:"hasPendingInstallAction"`
	RequiresManualInstall   bool                   `json:"requiresManualInstall"`

	PermanentlyDismissed bool `json:"permanentlyDismissed"`
	SessionDismissed     bool `json:"sessionDismissed"`

	UpdateState  state.State  `json:"updateState"`
	Capabilities Capabilities `json:"capabilities"`

	// Seq increases with every published snapshot. Consumers may drop a
	// snapshot whose Seq is lower than one they already handled.
	Seq uint64 `json:"seq"`
}

// Capabilities reports which optional platform features are usable.
type Capabilities struct {
	Install    platform.Capability `json:"install"`
	Workers    platform.Capability `json:"workers"`
	Connection platform.Capability `json:"connection"`
}
