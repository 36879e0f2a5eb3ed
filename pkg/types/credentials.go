package types

// RegistryCredentials holds static credentials for a single container registry host.
type RegistryCredentials struct {
	RegistryURL string `json:"registryUrl"`
	Username    string `json:"username"`
	Password    string `json:"password"`
}
