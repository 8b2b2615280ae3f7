package restore

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/lib/pq/oid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaydb/wire/compiler"
	"github.com/relaydb/wire/dump"
	"github.com/relaydb/wire/protocol"
	"github.com/relaydb/wire/session"
)

type fakeCompiler struct {
	desc compiler.RestoreDescription
	err  error
}

func (c fakeCompiler) Compile(ctx context.Context, req compiler.CompilationRequest, allowCapabilities uint64) (compiler.CompiledQuery, error) {
	return compiler.CompiledQuery{}, nil
}

func (c fakeCompiler) DescribeDump(ctx context.Context, in compiler.DescribeDumpInput) (compiler.DumpDescription, error) {
	return compiler.DumpDescription{}, nil
}

func (c fakeCompiler) DescribeRestore(ctx context.Context, in compiler.DescribeRestoreInput) (compiler.RestoreDescription, error) {
	return c.desc, c.err
}

type fakeConn struct {
	executed        []string
	fed              [][]byte
	triggersDisabled []string
	triggersEnabled  []string
	committed        bool
	rolledBack       bool
}

func (c *fakeConn) Release() {}
func (c *fakeConn) Discard() {}

func (c *fakeConn) BeginReadOnlySerializableDeferrable(ctx context.Context) error { return nil }
func (c *fakeConn) BeginSerializable(ctx context.Context) error                  { return nil }
func (c *fakeConn) Commit(ctx context.Context) error {
	c.committed = true
	return nil
}
func (c *fakeConn) Rollback(ctx context.Context) error {
	c.rolledBack = true
	return nil
}

func (c *fakeConn) SetIdleInTransactionTimeout(ctx context.Context, d time.Duration) error { return nil }
func (c *fakeConn) SetStatementTimeout(ctx context.Context, d time.Duration) error         { return nil }

func (c *fakeConn) Execute(ctx context.Context, unit compiler.Unit, args []byte) (pgx.Rows, string, error) {
	c.executed = append(c.executed, unit.SQL)
	if args != nil {
		c.fed = append(c.fed, args)
	}
	return nil, "", nil
}

func (c *fakeConn) FetchBlockData(ctx context.Context, sql string) (pgx.Rows, error) {
	return nil, nil
}

func (c *fakeConn) ExecDDL(ctx context.Context, sql string) (map[string]oid.Oid, error) {
	c.executed = append(c.executed, sql)
	return nil, nil
}

func (c *fakeConn) DisableTriggers(ctx context.Context, tables []string) error {
	c.triggersDisabled = tables
	return nil
}
func (c *fakeConn) EnableTriggers(ctx context.Context, tables []string) error {
	c.triggersEnabled = tables
	return nil
}
func (c *fakeConn) Cancel(ctx context.Context) error { return nil }

func inRangeHeader() dump.Header {
	return dump.Header{ProtocolMajor: protocol.CurrentVersion.Major(), ProtocolMinor: protocol.CurrentVersion.Minor()}
}

func TestRunRejectsWhileInTx(t *testing.T) {
	view := session.NewState("db", uuid.Nil)
	view.BeginTx(uuid.New())

	_, err := Run(context.Background(), view, fakeCompiler{}, &fakeConn{}, inRangeHeader())
	require.Error(t, err)
}

func TestRunRejectsOutOfRangeProtocolVersion(t *testing.T) {
	view := session.NewState("db", uuid.Nil)
	header := dump.Header{ProtocolMajor: 0, ProtocolMinor: 0}

	_, err := Run(context.Background(), view, fakeCompiler{}, &fakeConn{}, header)
	require.Error(t, err)
}

func TestRunAppliesSchemaUnitsAndDisablesTriggers(t *testing.T) {
	view := session.NewState("db", uuid.Nil)
	id := uuid.New()

	comp := fakeCompiler{desc: compiler.RestoreDescription{
		SchemaSQLUnits: []compiler.SchemaSQLUnit{
			{SQL: "CREATE TABLE t ();"},
			{SQL: "ALTER TABLE t ADD COLUMN c int", DDLStatementID: &id},
		},
		TablesNeedingTriggerDisable: []string{"t"},
	}}
	conn := &fakeConn{}

	sess, err := Run(context.Background(), view, comp, conn, inRangeHeader())
	require.NoError(t, err)
	require.NotNil(t, sess)

	assert.Equal(t, []string{"CREATE TABLE t ();", "ALTER TABLE t ADD COLUMN c int"}, conn.executed)
	assert.Equal(t, []string{"t"}, conn.triggersDisabled)
}

func TestRunRejectsConfigureInstance(t *testing.T) {
	view := session.NewState("db", uuid.Nil)
	comp := fakeCompiler{desc: compiler.RestoreDescription{
		SchemaSQLUnits: []compiler.SchemaSQLUnit{{SQL: "configure instance set x", IsConfigureInstance: true}},
	}}
	conn := &fakeConn{}

	_, err := Run(context.Background(), view, comp, conn, inRangeHeader())
	require.Error(t, err)
	assert.True(t, conn.rolledBack)
}

func TestFeedAndFinishCommits(t *testing.T) {
	view := session.NewState("db", uuid.Nil)
	comp := fakeCompiler{desc: compiler.RestoreDescription{
		RepopulateUnits:             []string{"REINDEX t"},
		TablesNeedingTriggerDisable: []string{"t"},
	}}
	conn := &fakeConn{}

	sess, err := Run(context.Background(), view, comp, conn, inRangeHeader())
	require.NoError(t, err)

	require.NoError(t, sess.Feed(context.Background(), dump.Block{Data: []byte("rowdata")}))
	require.Len(t, conn.fed, 1)
	assert.Equal(t, []byte("rowdata"), conn.fed[0])

	require.NoError(t, sess.Finish(context.Background()))
	assert.True(t, conn.committed)
	assert.Equal(t, []string{"t"}, conn.triggersEnabled)
}

func TestAbortRollsBack(t *testing.T) {
	conn := &fakeConn{}
	sess := &Session{conn: conn}
	require.NoError(t, sess.Abort(context.Background()))
	assert.True(t, conn.rolledBack)
}
