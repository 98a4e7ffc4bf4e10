package app

import (
	"gravfit/adapters/excel"
)

// Cleaned dataset names, without the CleanedFileName suffix
const (
	DatasetVerticalRear = "v_r_trials"
	DatasetDisplacement = "d_ml_trials"
)

// datasetVariables lists the dependent variables each cleaned dataset carries
var datasetVariables = map[string][]string{
	DatasetVerticalRear: {"vertical_indicated_error", "tilt_indicated_error"},
	DatasetDisplacement: {
		"turn_bed_displacement",
		"indicated_displacement",
		"indicated_displacement_error",
		"turn_end_joystick_position",
		"midline_indicated_angle",
		"turn_rms_track_error",
	},
}

// DatasetFor returns the dataset holding depVar
func DatasetFor(depVar string) (string, bool) {
	for dataset, vars := range datasetVariables {
		for _, v := range vars {
			if v == depVar {
				return dataset, true
			}
		}
	}
	return "", false
}

// DatasetFile is the cleaned file name of a dataset
func DatasetFile(dataset string) string {
	return excel.CleanedFileName(dataset)
}
