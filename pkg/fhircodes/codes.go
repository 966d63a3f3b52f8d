package fhircodes

// Terminology constants used by calculator bindings and the clinical-data
// clients.

// Coding system URIs.
const (
	SystemLOINC  = "http://loinc.org"
	SystemSNOMED = "http://snomed.info/sct"
	SystemUCUM   = "http://unitsofmeasure.org"
)

// Vital sign LOINC codes.
const (
	SystolicBP      = "8480-6"
	DiastolicBP     = "8462-4"
	BPPanel         = "85354-9"
	BPPanelAlt      = "55284-4"
	HeartRate       = "8867-4"
	RespiratoryRate = "9279-1"
	BodyTemperature = "8310-5"
	BodyHeight      = "8302-2"
	BodyWeight      = "29463-7"
	BMI             = "39156-5"
	MeanBP          = "8478-0"
)

// Laboratory LOINC codes.
const (
	CholesterolTotal = "2093-3"
	HDL              = "2085-9"
	HDLAlt           = "18263-4"
	LDL              = "18262-6"
	Triglycerides    = "2571-8"
	Glucose          = "2345-7"
	Creatinine       = "2160-0"
	BUN              = "3094-0"
	Sodium           = "2951-2"
	Potassium        = "2823-3"
	Hemoglobin       = "718-7"
	Platelets        = "777-3"
	WBC              = "6690-2"
	Albumin          = "1751-7"
	Bilirubin        = "1975-2"
)

// Condition SNOMED CT codes.
const (
	Hypertension         = "38341003"
	DiabetesType2        = "44054006"
	DiabetesMellitus     = "73211009"
	Smoker               = "77176002"
	MyocardialInfarction = "22298006"
	Stroke               = "230690007"
	PeripheralArterial   = "399957001"
	CoronaryArtery       = "53741008"
)

// Condition clinical status codes.
const (
	ConditionActive     = "active"
	ConditionRecurrence = "recurrence"
	ConditionRelapse    = "relapse"
	ConditionInactive   = "inactive"
	ConditionRemission  = "remission"
	ConditionResolved   = "resolved"
)

// Observation status codes that carry a usable value.
const (
	ObservationFinal     = "final"
	ObservationAmended   = "amended"
	ObservationCorrected = "corrected"
)

// Administrative gender codes.
const (
	GenderMale    = "male"
	GenderFemale  = "female"
	GenderOther   = "other"
	GenderUnknown = "unknown"
)

// BPComponents maps the blood-pressure panel components to the panel codes
// that carry them.
var BPComponents = map[string][]string{
	SystolicBP:  {BPPanel, BPPanelAlt},
	DiastolicBP: {BPPanel, BPPanelAlt},
}
