package query

// MySQL returns the catalog for the mysql engine. Dolt speaks the same
// dialect and uses this catalog unchanged.
//
// Columns that participate in a key are VARCHAR(255); free-form text
// stays TEXT, which forces the prefix length on the Artifact uri index.
func MySQL() *Catalog {
	return &Catalog{
		CreateAllTables: []string{
			`CREATE TABLE Type (
				id INT PRIMARY KEY AUTO_INCREMENT,
				name VARCHAR(255) NOT NULL,
				type_kind TINYINT(1) NOT NULL
			)`,
			`CREATE TABLE TypeProperty (
				type_id INT NOT NULL,
				name VARCHAR(255) NOT NULL,
				data_type INT NOT NULL,
				PRIMARY KEY (type_id, name)
			)`,
			`CREATE TABLE Artifact (
				id INT PRIMARY KEY AUTO_INCREMENT,
				type_id INT NOT NULL,
				uri TEXT
			)`,
			`CREATE TABLE ArtifactProperty (
				artifact_id INT NOT NULL,
				name VARCHAR(255) NOT NULL,
				is_custom_property TINYINT(1) NOT NULL,
				int_value BIGINT,
				double_value DOUBLE,
				string_value TEXT,
				PRIMARY KEY (artifact_id, name, is_custom_property)
			)`,
			`CREATE TABLE Execution (
				id INT PRIMARY KEY AUTO_INCREMENT,
				type_id INT NOT NULL
			)`,
			`CREATE TABLE ExecutionProperty (
				execution_id INT NOT NULL,
				name VARCHAR(255) NOT NULL,
				is_custom_property TINYINT(1) NOT NULL,
				int_value BIGINT,
				double_value DOUBLE,
				string_value TEXT,
				PRIMARY KEY (execution_id, name, is_custom_property)
			)`,
			`CREATE TABLE Context (
				id INT PRIMARY KEY AUTO_INCREMENT,
				type_id INT NOT NULL,
				name VARCHAR(255) NOT NULL
			)`,
			`CREATE TABLE ContextProperty (
				context_id INT NOT NULL,
				name VARCHAR(255) NOT NULL,
				is_custom_property TINYINT(1) NOT NULL,
				int_value BIGINT,
				double_value DOUBLE,
				string_value TEXT,
				PRIMARY KEY (context_id, name, is_custom_property)
			)`,
			`CREATE TABLE Event (
				id INT PRIMARY KEY AUTO_INCREMENT,
				artifact_id INT NOT NULL,
				execution_id INT NOT NULL,
				type INT NOT NULL,
				milliseconds_since_epoch BIGINT
			)`,
			`CREATE TABLE EventPath (
				event_id INT NOT NULL,
				step_position INT NOT NULL,
				is_index_step TINYINT(1) NOT NULL,
				step_index BIGINT,
				step_key TEXT
			)`,
			`CREATE TABLE Attribution (
				id INT PRIMARY KEY AUTO_INCREMENT,
				context_id INT NOT NULL,
				artifact_id INT NOT NULL,
				UNIQUE (context_id, artifact_id)
			)`,
			`CREATE TABLE Association (
				id INT PRIMARY KEY AUTO_INCREMENT,
				context_id INT NOT NULL,
				execution_id INT NOT NULL,
				UNIQUE (context_id, execution_id)
			)`,
			`CREATE TABLE MLMDEnv (
				schema_version INT PRIMARY KEY
			)`,
			`CREATE UNIQUE INDEX idx_context_type_id_name ON Context (type_id, name)`,
			`CREATE INDEX idx_artifact_uri ON Artifact (uri(255))`,
			`CREATE UNIQUE INDEX idx_type_name_kind ON Type (name, type_kind)`,
			`CREATE UNIQUE INDEX idx_event_triple ON Event (artifact_id, execution_id, type)`,
		},
		DropAllTables: []string{
			`DROP TABLE IF EXISTS Type`,
			`DROP TABLE IF EXISTS TypeProperty`,
			`DROP TABLE IF EXISTS Artifact`,
			`DROP TABLE IF EXISTS ArtifactProperty`,
			`DROP TABLE IF EXISTS Execution`,
			`DROP TABLE IF EXISTS ExecutionProperty`,
			`DROP TABLE IF EXISTS Context`,
			`DROP TABLE IF EXISTS ContextProperty`,
			`DROP TABLE IF EXISTS Event`,
			`DROP TABLE IF EXISTS EventPath`,
			`DROP TABLE IF EXISTS Attribution`,
			`DROP TABLE IF EXISTS Association`,
			`DROP TABLE IF EXISTS MLMDEnv`,
		},
		CheckTypeTable:      `SELECT 1 FROM Type LIMIT 1`,
		SelectSchemaVersion: `SELECT schema_version FROM MLMDEnv`,
		InsertSchemaVersion: `INSERT INTO MLMDEnv (schema_version) VALUES (?)`,
		UpdateSchemaVersion: `UPDATE MLMDEnv SET schema_version = ?`,
		Migrations:          mysqlMigrations,

		InsertType:           `INSERT INTO Type (name, type_kind) VALUES (?, ?)`,
		SelectTypeByName:     `SELECT id, name, type_kind FROM Type WHERE name = ? AND type_kind = ?`,
		SelectTypesByID:      `SELECT id, name, type_kind FROM Type WHERE id IN (%s) AND type_kind = ? ORDER BY id`,
		SelectTypesByKind:    `SELECT id, name, type_kind FROM Type WHERE type_kind = ? ORDER BY id`,
		InsertTypeProperty:   `INSERT INTO TypeProperty (type_id, name, data_type) VALUES (?, ?, ?)`,
		SelectTypeProperties: `SELECT type_id, name, data_type FROM TypeProperty WHERE type_id IN (%s) ORDER BY type_id, name`,

		InsertArtifact:          `INSERT INTO Artifact (type_id, uri) VALUES (?, ?)`,
		UpdateArtifact:          `UPDATE Artifact SET type_id = ?, uri = ? WHERE id = ?`,
		SelectArtifactsByID:     `SELECT id, type_id, uri FROM Artifact WHERE id IN (%s) ORDER BY id`,
		SelectArtifactsByTypeID: `SELECT id, type_id, uri FROM Artifact WHERE type_id = ? ORDER BY id`,
		SelectArtifactsByURI:    `SELECT id, type_id, uri FROM Artifact WHERE uri = ? ORDER BY id`,
		SelectAllArtifacts:      `SELECT id, type_id, uri FROM Artifact ORDER BY id`,

		InsertExecution:          `INSERT INTO Execution (type_id) VALUES (?)`,
		UpdateExecution:          `UPDATE Execution SET type_id = ? WHERE id = ?`,
		SelectExecutionsByID:     `SELECT id, type_id FROM Execution WHERE id IN (%s) ORDER BY id`,
		SelectExecutionsByTypeID: `SELECT id, type_id FROM Execution WHERE type_id = ? ORDER BY id`,
		SelectAllExecutions:      `SELECT id, type_id FROM Execution ORDER BY id`,

		InsertContext:                `INSERT INTO Context (type_id, name) VALUES (?, ?)`,
		UpdateContext:                `UPDATE Context SET type_id = ?, name = ? WHERE id = ?`,
		SelectContextsByID:           `SELECT id, type_id, name FROM Context WHERE id IN (%s) ORDER BY id`,
		SelectContextsByTypeID:       `SELECT id, type_id, name FROM Context WHERE type_id = ? ORDER BY id`,
		SelectContextByTypeIDAndName: `SELECT id, type_id, name FROM Context WHERE type_id = ? AND name = ?`,
		SelectAllContexts:            `SELECT id, type_id, name FROM Context ORDER BY id`,

		InsertArtifactProperty:   `INSERT INTO ArtifactProperty (artifact_id, name, is_custom_property, int_value, double_value, string_value) VALUES (?, ?, ?, ?, ?, ?)`,
		UpdateArtifactProperty:   `UPDATE ArtifactProperty SET int_value = ?, double_value = ?, string_value = ? WHERE artifact_id = ? AND name = ? AND is_custom_property = ?`,
		DeleteArtifactProperty:   `DELETE FROM ArtifactProperty WHERE artifact_id = ? AND name = ? AND is_custom_property = ?`,
		SelectArtifactProperties: `SELECT artifact_id, name, is_custom_property, int_value, double_value, string_value FROM ArtifactProperty WHERE artifact_id IN (%s) ORDER BY artifact_id, name`,

		InsertExecutionProperty:   `INSERT INTO ExecutionProperty (execution_id, name, is_custom_property, int_value, double_value, string_value) VALUES (?, ?, ?, ?, ?, ?)`,
		UpdateExecutionProperty:   `UPDATE ExecutionProperty SET int_value = ?, double_value = ?, string_value = ? WHERE execution_id = ? AND name = ? AND is_custom_property = ?`,
		DeleteExecutionProperty:   `DELETE FROM ExecutionProperty WHERE execution_id = ? AND name = ? AND is_custom_property = ?`,
		SelectExecutionProperties: `SELECT execution_id, name, is_custom_property, int_value, double_value, string_value FROM ExecutionProperty WHERE execution_id IN (%s) ORDER BY execution_id, name`,

		InsertContextProperty:   `INSERT INTO ContextProperty (context_id, name, is_custom_property, int_value, double_value, string_value) VALUES (?, ?, ?, ?, ?, ?)`,
		UpdateContextProperty:   `UPDATE ContextProperty SET int_value = ?, double_value = ?, string_value = ? WHERE context_id = ? AND name = ? AND is_custom_property = ?`,
		DeleteContextProperty:   `DELETE FROM ContextProperty WHERE context_id = ? AND name = ? AND is_custom_property = ?`,
		SelectContextProperties: `SELECT context_id, name, is_custom_property, int_value, double_value, string_value FROM ContextProperty WHERE context_id IN (%s) ORDER BY context_id, name`,

		InsertEvent:                `INSERT IGNORE INTO Event (artifact_id, execution_id, type, milliseconds_since_epoch) VALUES (?, ?, ?, ?)`,
		SelectEventsByArtifactIDs:  `SELECT id, artifact_id, execution_id, type, milliseconds_since_epoch FROM Event WHERE artifact_id IN (%s) ORDER BY id`,
		SelectEventsByExecutionIDs: `SELECT id, artifact_id, execution_id, type, milliseconds_since_epoch FROM Event WHERE execution_id IN (%s) ORDER BY id`,
		InsertEventPath:            `INSERT INTO EventPath (event_id, step_position, is_index_step, step_index, step_key) VALUES (?, ?, ?, ?, ?)`,
		SelectEventPaths:           `SELECT event_id, step_position, is_index_step, step_index, step_key FROM EventPath WHERE event_id IN (%s) ORDER BY event_id, step_position`,

		InsertAttribution:           `INSERT IGNORE INTO Attribution (context_id, artifact_id) VALUES (?, ?)`,
		InsertAssociation:           `INSERT IGNORE INTO Association (context_id, execution_id) VALUES (?, ?)`,
		SelectContextsByArtifactID:  `SELECT c.id, c.type_id, c.name FROM Context c JOIN Attribution a ON c.id = a.context_id WHERE a.artifact_id = ? ORDER BY c.id`,
		SelectContextsByExecutionID: `SELECT c.id, c.type_id, c.name FROM Context c JOIN Association a ON c.id = a.context_id WHERE a.execution_id = ? ORDER BY c.id`,
		SelectArtifactsByContextID:  `SELECT a.id, a.type_id, a.uri FROM Artifact a JOIN Attribution t ON a.id = t.artifact_id WHERE t.context_id = ? ORDER BY a.id`,
		SelectExecutionsByContextID: `SELECT e.id, e.type_id FROM Execution e JOIN Association s ON e.id = s.execution_id WHERE s.context_id = ? ORDER BY e.id`,

		CountTypes:      `SELECT count(*) FROM Type`,
		CountArtifacts:  `SELECT count(*) FROM Artifact`,
		CountExecutions: `SELECT count(*) FROM Execution`,
		CountContexts:   `SELECT count(*) FROM Context`,
		CountEvents:     `SELECT count(*) FROM Event`,
	}
}

// mysqlMigrations mirrors the sqlite history in the MySQL dialect. DDL
// statements auto-commit on MySQL, so a failed step can leave a version
// boundary partially applied; steps are kept to one or two statements to
// keep that window small.
var mysqlMigrations = map[int64]Migration{
	1: {
		Upgrade: []string{
			`CREATE TABLE MLMDEnv (
				schema_version INT PRIMARY KEY
			)`,
		},
		Downgrade: []string{
			`DROP TABLE MLMDEnv`,
		},
	},
	2: {
		Upgrade: []string{
			`CREATE TABLE EventPath (
				event_id INT NOT NULL,
				step_position INT NOT NULL,
				is_index_step TINYINT(1) NOT NULL,
				step_index BIGINT,
				step_key TEXT
			)`,
		},
		Downgrade: []string{
			`DROP TABLE EventPath`,
		},
	},
	3: {
		Upgrade: []string{
			`CREATE TABLE Context (
				id INT PRIMARY KEY AUTO_INCREMENT,
				type_id INT NOT NULL,
				name VARCHAR(255) NOT NULL
			)`,
			`CREATE TABLE ContextProperty (
				context_id INT NOT NULL,
				name VARCHAR(255) NOT NULL,
				is_custom_property TINYINT(1) NOT NULL,
				int_value BIGINT,
				double_value DOUBLE,
				string_value TEXT,
				PRIMARY KEY (context_id, name, is_custom_property)
			)`,
		},
		Downgrade: []string{
			`DROP TABLE Context`,
			`DROP TABLE ContextProperty`,
		},
	},
	4: {
		Upgrade: []string{
			`CREATE TABLE Attribution (
				id INT PRIMARY KEY AUTO_INCREMENT,
				context_id INT NOT NULL,
				artifact_id INT NOT NULL,
				UNIQUE (context_id, artifact_id)
			)`,
			`CREATE TABLE Association (
				id INT PRIMARY KEY AUTO_INCREMENT,
				context_id INT NOT NULL,
				execution_id INT NOT NULL,
				UNIQUE (context_id, execution_id)
			)`,
		},
		Downgrade: []string{
			`DROP TABLE Attribution`,
			`DROP TABLE Association`,
		},
	},
	5: {
		Upgrade: []string{
			`CREATE UNIQUE INDEX idx_context_type_id_name ON Context (type_id, name)`,
			`CREATE INDEX idx_artifact_uri ON Artifact (uri(255))`,
		},
		Downgrade: []string{
			`DROP INDEX idx_context_type_id_name ON Context`,
			`DROP INDEX idx_artifact_uri ON Artifact`,
		},
	},
	6: {
		Upgrade: []string{
			`CREATE UNIQUE INDEX idx_type_name_kind ON Type (name, type_kind)`,
			`CREATE UNIQUE INDEX idx_event_triple ON Event (artifact_id, execution_id, type)`,
		},
		Downgrade: []string{
			`DROP INDEX idx_type_name_kind ON Type`,
			`DROP INDEX idx_event_triple ON Event`,
		},
	},
}
