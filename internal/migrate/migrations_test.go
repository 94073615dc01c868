package migrate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"workdesk/internal/db"
)

func TestMigrateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	v, err := Version(ctx, conn)
	require.NoError(t, err)
	assert.Equal(t, 0, v)

	applied, err := Migrate(ctx, conn)
	require.NoError(t, err)
	assert.Equal(t, []string{"001_init.sql", "002_org_model.sql"}, applied)

	applied, err = Migrate(ctx, conn)
	require.NoError(t, err)
	assert.Empty(t, applied)

	v, err = Version(ctx, conn)
	require.NoError(t, err)
	assert.Equal(t, 2, v)
}

func TestAuditIsAppendOnly(t *testing.T) {
	ctx := context.Background()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	_, err = Migrate(ctx, conn)
	require.NoError(t, err)

	_, err = conn.ExecContext(ctx, `INSERT INTO work_items(workflow_id,run_id,task_type,task_name,state,created_at,updated_at) VALUES ('wf','r','t','n','OFFERED','x','x')`)
	require.NoError(t, err)
	_, err = conn.ExecContext(ctx, `INSERT INTO work_item_audit(work_item_id,action,actor_id,created_at) VALUES (1,'CREATE','wf','x')`)
	require.NoError(t, err)

	_, err = conn.ExecContext(ctx, `UPDATE work_item_audit SET actor_id='other'`)
	assert.ErrorContains(t, err, "append-only")
	_, err = conn.ExecContext(ctx, `DELETE FROM work_item_audit`)
	assert.ErrorContains(t, err, "append-only")
}
