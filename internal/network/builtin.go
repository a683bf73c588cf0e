package network

// Builtin returns the default network table.
func Builtin() Table {
	return Table{
		"boba_eth_mainnet": {
			URL:        "https://mainnet.boba.network",
			URLEnv:     "LIGHTBRIDGE_RPC_BOBAETHMAINNET",
			ChainID:    288,
			Credential: DefaultCredential,
			Explorer: &Explorer{
				APIURL:     "https://api.routescan.io/v2/network/mainnet/evm/288/etherscan",
				BrowserURL: "https://bobascan.com",
			},
		},
		"boba_bnb_mainnet": {
			URL:        "https://gateway.tenderly.co/public/boba-bnb",
			ChainID:    56288,
			Credential: DefaultCredential,
			Explorer: &Explorer{
				APIURL:     "https://api.routescan.io/v2/network/mainnet/evm/56288/etherscan",
				BrowserURL: "https://bobascan.com",
			},
		},
		"boba_sepolia": {
			URL:        "https://sepolia.boba.network",
			ChainID:    28882,
			Credential: DefaultCredential,
			Explorer: &Explorer{
				APIURL:     "https://api.routescan.io/v2/network/testnet/evm/28882/etherscan",
				BrowserURL: "https://testnet.bobascan.com",
			},
		},
		"boba_bnb_testnet": {
			URL:        "https://boba-bnb-testnet.gateway.tenderly.co",
			ChainID:    9728,
			Credential: DefaultCredential,
			Explorer: &Explorer{
				APIURL:     "https://api.routescan.io/v2/network/testnet/evm/9728/etherscan",
				BrowserURL: "https://testnet.bobascan.com",
			},
		},
		"localhost": {
			URL:        "http://127.0.0.1:8545",
			ChainID:    31337,
			Credential: DefaultCredential,
		},
	}
}
