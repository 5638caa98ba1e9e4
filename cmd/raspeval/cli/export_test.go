package cli

// SetStoreOpener replaces how commands open the attack store.
func (c *CLI) SetStoreOpener(open StoreOpener) {
	c.openStore = open
}
