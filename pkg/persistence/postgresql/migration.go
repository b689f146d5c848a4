package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			-- Create processes table; steps live in the JSONB document
			CREATE TABLE processes (
				id VARCHAR(255) PRIMARY KEY,
				name VARCHAR(255) NOT NULL,
				template_id VARCHAR(255),
				status VARCHAR(50) NOT NULL CHECK (status IN ('not_started', 'in_progress', 'blocked', 'completed', 'stopped')),
				version BIGINT NOT NULL,
				document JSONB NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_processes_status ON processes(status);
			CREATE INDEX idx_processes_created_at ON processes(created_at);
		`,
		2: `
			-- Migration 2: lookup by template
			CREATE INDEX idx_processes_template_id ON processes(template_id);
		`,
	}
}
