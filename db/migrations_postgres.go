package db

// PostgreSQL migrations for the run store

var postgresMigrations = []Migration{
	{
		Version: 1,
		Name:    "create_interlinker_runs_table",
		Up: `
			CREATE TABLE IF NOT EXISTS interlinker_runs (
				id TEXT PRIMARY KEY,
				principal_url TEXT NOT NULL,
				data TEXT NOT NULL,
				total_links INTEGER NOT NULL DEFAULT 0,
				rejected INTEGER NOT NULL DEFAULT 0,
				created_at TIMESTAMPTZ DEFAULT NOW(),
				updated_at TIMESTAMPTZ DEFAULT NOW()
			);
			CREATE INDEX IF NOT EXISTS idx_interlinker_runs_principal_url ON interlinker_runs(principal_url);
			CREATE INDEX IF NOT EXISTS idx_interlinker_runs_created_at ON interlinker_runs(created_at);
		`,
		Down: `
			DROP INDEX IF EXISTS idx_interlinker_runs_created_at;
			DROP INDEX IF EXISTS idx_interlinker_runs_principal_url;
			DROP TABLE IF EXISTS interlinker_runs;
		`,
	},
	{
		Version: 2,
		Name:    "create_interlinker_edits_table",
		Up: `
			CREATE TABLE IF NOT EXISTS interlinker_edits (
				id SERIAL PRIMARY KEY,
				run_id TEXT NOT NULL,
				block_id TEXT NOT NULL,
				target_url TEXT NOT NULL,
				anchor TEXT NOT NULL,
				score DOUBLE PRECISION NOT NULL DEFAULT 0,
				created_at TIMESTAMPTZ DEFAULT NOW(),
				FOREIGN KEY (run_id) REFERENCES interlinker_runs(id) ON DELETE CASCADE
			);
			CREATE INDEX IF NOT EXISTS idx_interlinker_edits_run_id ON interlinker_edits(run_id);
			CREATE INDEX IF NOT EXISTS idx_interlinker_edits_target_url ON interlinker_edits(target_url);
		`,
		Down: `
			DROP INDEX IF EXISTS idx_interlinker_edits_target_url;
			DROP INDEX IF EXISTS idx_interlinker_edits_run_id;
			DROP TABLE IF EXISTS interlinker_edits;
		`,
	},
	{
		Version: 3,
		Name:    "add_runs_views_path",
		Up: `
			ALTER TABLE interlinker_runs ADD COLUMN IF NOT EXISTS views_path TEXT;
		`,
		Down: `
			ALTER TABLE interlinker_runs DROP COLUMN IF EXISTS views_path;
		`,
	},
}
