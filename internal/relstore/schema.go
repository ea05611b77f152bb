package relstore

import "fmt"

// Relation tables. Each holds pairs from exactly two namespaces.
const (
	TableBioProjectBioSample    = "bioproject_biosample"
	TableBioProjectUmbrella     = "bioproject_umbrella"
	TableBioProjectSRAStudy     = "bioproject_sra_study"
	TableBioProjectGEA          = "bioproject_gea"
	TableBioProjectMetaboBank   = "bioproject_metabobank"
	TableBioProjectAssembly     = "bioproject_assembly"
	TableBioSampleSRASample     = "biosample_sra_sample"
	TableBioSampleSRAExperiment = "biosample_sra_experiment"
	TableBioSampleGEA           = "biosample_gea"
	TableBioSampleMetaboBank    = "biosample_metabobank"
	TableBioSampleAssembly      = "biosample_assembly"
	TableJGAStudyDataset        = "jga_study_dataset"
	TableJGADatasetPolicy       = "jga_dataset_policy"
	TableJGAPolicyDAC           = "jga_policy_dac"
	TableJGAStudyHumanDBs       = "jga_study_humandbs"
)

// TableAccessionDates holds per-accession dates for sources whose XML lacks them.
const TableAccessionDates = "accession_dates"

// RelationTables is the allowlist of relation table names.
// Table names are interpolated into SQL, so nothing outside this list is ever queried.
var RelationTables = []string{
	TableBioProjectBioSample,
	TableBioProjectUmbrella,
	TableBioProjectSRAStudy,
	TableBioProjectGEA,
	TableBioProjectMetaboBank,
	TableBioProjectAssembly,
	TableBioSampleSRASample,
	TableBioSampleSRAExperiment,
	TableBioSampleGEA,
	TableBioSampleMetaboBank,
	TableBioSampleAssembly,
	TableJGAStudyDataset,
	TableJGADatasetPolicy,
	TableJGAPolicyDAC,
	TableJGAStudyHumanDBs,
}

// IsRelationTable reports whether name is an allowlisted relation table.
func IsRelationTable(name string) bool {
	for _, t := range RelationTables {
		if t == name {
			return true
		}
	}
	return false
}

func relationTableDDL(table string) []string {
	return []string{
		fmt.Sprintf(`DROP TABLE IF EXISTS %s`, table),
		fmt.Sprintf(`CREATE TABLE %s (
    id0 TEXT NOT NULL,
    id1 TEXT NOT NULL
)`, table),
	}
}

func relationIndexDDL(table string) []string {
	return []string{
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_id0 ON %s(id0)`, table, table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_id1 ON %s(id1)`, table, table),
	}
}

func datesTableDDL() []string {
	return []string{
		fmt.Sprintf(`DROP TABLE IF EXISTS %s`, TableAccessionDates),
		fmt.Sprintf(`CREATE TABLE %s (
    accession      TEXT PRIMARY KEY,
    date_created   TEXT NULL,
    date_modified  TEXT NULL,
    date_published TEXT NULL
)`, TableAccessionDates),
	}
}

// sqlitePragmas tunes the embedded store for bulk rebuilds.
const sqlitePragmas = "_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_pragma=cache_size(-64000)"
