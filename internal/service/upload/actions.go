package upload

import "labelsync/internal/domain"

// DetermineActions computes the action set from explicit ids, column roles
// and the requested upload method. A table with no resolvable dataset is a
// configuration error.
func DetermineActions(targets domain.Targets, roles Roles, uploadMethod string) (domain.ActionSet, error) {
	mode, err := domain.ParseAnnotateMode(uploadMethod)
	if err != nil {
		return domain.ActionSet{}, err
	}

	var a domain.ActionSet
	a.Create = targets.DatasetID != "" || roles.DatasetIDCol != ""
	if !a.Create {
		return domain.ActionSet{}, domain.ErrConfig(
			"no dataset to create records in: pass a dataset id or add a %q column", domain.ColumnDatasetID)
	}

	a.Batch = targets.ProjectID != "" || roles.ProjectIDCol != ""
	if a.Batch && mode != domain.AnnotateNone && len(roles.AnnotationIndex) > 0 {
		a.Annotate = mode
	}

	hasModel := targets.ModelID != "" || targets.ModelRunID != "" ||
		roles.ModelIDCol != "" || roles.ModelRunIDCol != ""
	a.Predict = hasModel && len(roles.PredictionIndex) > 0
	return a, nil
}
