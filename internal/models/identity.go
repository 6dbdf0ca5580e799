package models

// Identity is the site and operator on whose behalf drafts are uploaded.
type Identity struct {
	SiteUUID     string `json:"site_uuid"`
	OperatorUUID string `json:"operator_uuid"`
}

// Validate returns ErrMissingIdentity when either half is absent.
func (i Identity) Validate() error {
	if i.SiteUUID == "" || i.OperatorUUID == "" {
		return ErrMissingIdentity
	}
	return nil
}
