package roam

// A Registry reports per-connection link status. Roaming only applies to
// connections whose link is established or being established.
type Registry interface {
	LinkUp(vdev VdevID) bool
}

// RegistryFunc adapts a function to the Registry interface.
type RegistryFunc func(vdev VdevID) bool

// LinkUp implements Registry.
func (f RegistryFunc) LinkUp(vdev VdevID) bool { return f(vdev) }
