//go:build !darwin

package permission

type systemChecker struct{}

// System returns the platform permission checker. Outside macOS these
// capabilities are gated by the OS itself (device nodes, display-server
// grabs) with no queryable authorization model, so every capability
// reports granted and a missing grant surfaces as the component's own
// acquisition error.
func System() Checker {
	return systemChecker{}
}

func (systemChecker) Granted(Capability) bool { return true }
