package txns

// Context is the transaction slot of one client connection. It is not safe
// for concurrent use.
type Context struct {
	mgr    *Manager
	active *Transaction
}

func NewContext(mgr *Manager) *Context {
	return &Context{mgr: mgr}
}

func (c *Context) HasActiveTransaction() bool {
	return c.active != nil
}

func (c *Context) ActiveTransaction() *Transaction {
	return c.active
}

func (c *Context) begin(action Action, typ Type) error {
	if err := ValidateAction(action, c.HasActiveTransaction()); err != nil {
		return err
	}

	txn, err := c.mgr.Begin(typ)
	if err != nil {
		return err
	}
	c.active = txn
	return nil
}

func (c *Context) BeginRead() error {
	return c.begin(BeginRead, ReadOnly)
}

func (c *Context) BeginWrite() error {
	return c.begin(BeginWrite, Write)
}

func (c *Context) Commit() error {
	if err := ValidateAction(Commit, c.HasActiveTransaction()); err != nil {
		return err
	}

	txn := c.active
	c.active = nil
	return c.mgr.Commit(txn)
}

func (c *Context) Rollback() error {
	if err := ValidateAction(Rollback, c.HasActiveTransaction()); err != nil {
		return err
	}

	txn := c.active
	c.active = nil
	return c.mgr.Rollback(txn)
}

// Run executes fn inside the active transaction or, when there is none, in
// an auto-committed transaction of type typ.
func (c *Context) Run(typ Type, fn func(txn *Transaction) error) error {
	if c.active != nil {
		if typ == Write && !c.active.IsWrite() {
			return ErrReadOnlyTransaction
		}
		return fn(c.active)
	}

	txn, err := c.mgr.Begin(typ)
	if err != nil {
		return err
	}
	if err := fn(txn); err != nil {
		if rbErr := c.mgr.Rollback(txn); rbErr != nil {
			c.mgr.log.Errorw("failed to roll back auto transaction", "txn", txn.ID(), "error", rbErr)
		}
		return err
	}
	return c.mgr.Commit(txn)
}
