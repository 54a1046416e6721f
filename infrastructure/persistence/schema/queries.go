package schema

// Query is a key condition: an exact partition match plus an optional sort key prefix.
type Query struct {
	// OnGSI1 selects the overloaded secondary index instead of the table.
	OnGSI1         bool
	PartitionAttr  string
	PartitionValue string
	SortAttr       string
	SortPrefix     string
	Ascending      bool
}

func tableQuery(partition, sortPrefix string) Query {
	return Query{
		PartitionAttr:  AttrPK,
		PartitionValue: partition,
		SortAttr:       AttrSK,
		SortPrefix:     sortPrefix,
		Ascending:      true,
	}
}

func indexQuery(partition, sortPrefix string) Query {
	return Query{
		OnGSI1:         true,
		PartitionAttr:  AttrGSI1PK,
		PartitionValue: partition,
		SortAttr:       AttrGSI1SK,
		SortPrefix:     sortPrefix,
		Ascending:      true,
	}
}

// PatientsByInstitution lists an institution's patients.
func PatientsByInstitution(institutionID string) Query {
	return tableQuery(InstitutionPartition(institutionID), prefixPatient)
}

// EvaluationsByPatient lists a patient's evaluations chronologically.
func EvaluationsByPatient(patientID string) Query {
	return tableQuery(PatientPartition(patientID), prefixEvaluation)
}

// AuditByPartition lists the audit entries of a partition chronologically.
func AuditByPartition(partition string) Query {
	return tableQuery(partition, prefixAudit)
}

// AuditByPatient lists a patient's audit trail chronologically.
func AuditByPatient(patientID string) Query {
	return AuditByPartition(PatientPartition(patientID))
}

// AuditByPerformer lists the entries a user performed, optionally narrowed to one patient.
func AuditByPerformer(userID, patientID string) Query {
	prefix := ""
	if patientID != "" {
		prefix = PatientPartition(patientID) + "#" + prefixAudit
	}
	return indexQuery(prefixPerformer+userID, prefix)
}

// UsersByInstitution lists an institution's users.
func UsersByInstitution(institutionID string) Query {
	return indexQuery(InstitutionPartition(institutionID)+suffixUsers, prefixUser)
}
