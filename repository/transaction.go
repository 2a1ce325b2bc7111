/*
 * Copyright 2025 tomoncle.
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/uptrace/bun"
)

// Transaction is an explicit transaction on one context. While it is open
// every query, commit and raw command of that context runs inside it.
type Transaction struct {
	owner *Context
	tx    bun.Tx
	done  bool
}

func (c *Context) begin(ctx context.Context, opts *sql.TxOptions) (*Transaction, error) {
	if c.tx != nil {
		return nil, fmt.Errorf("a transaction is already open on context %s", c.name)
	}
	if opts == nil {
		opts = &sql.TxOptions{Isolation: sql.LevelReadCommitted}
	}
	tx, err := c.db.BeginTx(ctx, opts)
	if err != nil {
		return nil, err
	}
	t := &Transaction{owner: c, tx: tx}
	c.tx = t
	c.logger.Debug("transaction started", "context", c.name, "isolation", opts.Isolation.String())
	return t, nil
}

// Context returns the context the transaction belongs to.
func (t *Transaction) Context() *Context { return t.owner }

func (t *Transaction) Commit() error {
	if t.done {
		return sql.ErrTxDone
	}
	defer t.release()
	return t.tx.Commit()
}

// Rollback aborts the transaction. Rolling back a finished transaction is a
// no-op.
func (t *Transaction) Rollback() error {
	if t.done {
		return nil
	}
	defer t.release()
	return t.tx.Rollback()
}

func (t *Transaction) release() {
	t.done = true
	if t.owner.tx == t {
		t.owner.tx = nil
	}
}
