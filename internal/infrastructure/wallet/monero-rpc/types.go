package monerorpc

// monero-wallet-rpc

type createWalletRequest struct {
	Filename string `json:"filename"`
	Password string `json:"password"`
	Language string `json:"language"`
}

type openWalletRequest struct {
	Filename string `json:"filename"`
	Password string `json:"password"`
}

type closeWalletRequest struct {
	AutosaveCurrent bool `json:"autosave_current"`
}

type accountRequest struct {
	AccountIndex uint32 `json:"account_index"`
}

type getAddressResponse struct {
	Address string `json:"address"`
}

type createAddressRequest struct {
	AccountIndex uint32 `json:"account_index"`
	Label        string `json:"label,omitempty"`
}

type createAddressResponse struct {
	Address      string `json:"address"`
	AddressIndex uint32 `json:"address_index"`
}

type getHeightResponse struct {
	Height uint64 `json:"height"`
}

type getBalanceResponse struct {
	Balance              uint64 `json:"balance"`
	UnlockedBalance      uint64 `json:"unlocked_balance"`
	MultisigImportNeeded bool   `json:"multisig_import_needed"`
}

type prepareMultisigResponse struct {
	MultisigInfo string `json:"multisig_info"`
}

type makeMultisigRequest struct {
	MultisigInfo []string `json:"multisig_info"`
	Threshold    int      `json:"threshold"`
	Password     string   `json:"password"`
}

type exchangeMultisigKeysRequest struct {
	MultisigInfo []string `json:"multisig_info"`
	Password     string   `json:"password"`
}

type multisigResponse struct {
	Address      string `json:"address"`
	MultisigInfo string `json:"multisig_info"`
}

type isMultisigResponse struct {
	Multisig  bool `json:"multisig"`
	Ready     bool `json:"ready"`
	Threshold int  `json:"threshold"`
	Total     int  `json:"total"`
}

type exportMultisigInfoResponse struct {
	Info string `json:"info"`
}

type importMultisigInfoRequest struct {
	Info []string `json:"info"`
}

type importMultisigInfoResponse struct {
	NumOutputs int `json:"n_outputs"`
}

type destination struct {
	Amount  uint64 `json:"amount"`
	Address string `json:"address"`
}

type transferRequest struct {
	Destinations           []destination `json:"destinations"`
	SubtractFeeFromOutputs []int         `json:"subtract_fee_from_outputs,omitempty"`
	DoNotRelay             bool          `json:"do_not_relay"`
	GetTxHex               bool          `json:"get_tx_hex"`
	GetTxKey               bool          `json:"get_tx_key"`
}

type transferResponse struct {
	Amount         uint64 `json:"amount"`
	Fee            uint64 `json:"fee"`
	TxHash         string `json:"tx_hash"`
	TxKey          string `json:"tx_key"`
	TxBlob         string `json:"tx_blob"`
	MultisigTxset  string `json:"multisig_txset"`
	SpentKeyImages struct {
		KeyImages []string `json:"key_images"`
	} `json:"spent_key_images"`
}

type txDataRequest struct {
	TxDataHex string `json:"tx_data_hex"`
}

type signMultisigResponse struct {
	TxDataHex  string   `json:"tx_data_hex"`
	TxHashList []string `json:"tx_hash_list"`
}

type submitMultisigResponse struct {
	TxHashList []string `json:"tx_hash_list"`
}

type describeTransferRequest struct {
	MultisigTxset string `json:"multisig_txset"`
}

type describeTransferResponse struct {
	Desc []transferDescription `json:"desc"`
}

type transferDescription struct {
	AmountIn      uint64        `json:"amount_in"`
	AmountOut     uint64        `json:"amount_out"`
	Recipients    []destination `json:"recipients"`
	ChangeAddress string        `json:"change_address"`
	ChangeAmount  uint64        `json:"change_amount"`
	Fee           uint64        `json:"fee"`
}

type getTransferByTxidRequest struct {
	Txid string `json:"txid"`
}

type getTransferByTxidResponse struct {
	Transfer  transfer   `json:"transfer"`
	Transfers []transfer `json:"transfers"`
}

type transfer struct {
	Txid            string        `json:"txid"`
	Type            string        `json:"type"`
	Amount          uint64        `json:"amount"`
	Fee             uint64        `json:"fee"`
	Height          uint64        `json:"height"`
	Confirmations   uint64        `json:"confirmations"`
	DoubleSpendSeen bool          `json:"double_spend_seen"`
	Destinations    []destination `json:"destinations"`
}

type getTransfersRequest struct {
	Out     bool `json:"out"`
	Pending bool `json:"pending"`
}

type getTransfersResponse struct {
	Out     []transfer `json:"out"`
	Pending []transfer `json:"pending"`
}

type checkTxKeyRequest struct {
	Txid    string `json:"txid"`
	TxKey   string `json:"tx_key"`
	Address string `json:"address"`
}

type checkTxKeyResponse struct {
	Confirmations uint64 `json:"confirmations"`
	InPool        bool   `json:"in_pool"`
	Received      uint64 `json:"received"`
}

type keyImageRequest struct {
	KeyImage string `json:"key_image"`
}

// monerod

const statusOK = "OK"

type sendRawTxRequest struct {
	TxAsHex    string `json:"tx_as_hex"`
	DoNotRelay bool   `json:"do_not_relay"`
}

type sendRawTxResponse struct {
	Status      string `json:"status"`
	Reason      string `json:"reason"`
	DoubleSpend bool   `json:"double_spend"`
	NotRelayed  bool   `json:"not_relayed"`
}

type relayTxRequest struct {
	Txids []string `json:"txids"`
}

type statusResponse struct {
	Status string `json:"status"`
}

type getTransactionsRequest struct {
	TxsHashes    []string `json:"txs_hashes"`
	DecodeAsJSON bool     `json:"decode_as_json"`
}

type getTransactionsResponse struct {
	Status   string     `json:"status"`
	Txs      []daemonTx `json:"txs"`
	MissedTx []string   `json:"missed_tx"`
}

type daemonTx struct {
	TxHash          string `json:"tx_hash"`
	AsHex           string `json:"as_hex"`
	AsJSON          string `json:"as_json"`
	BlockHeight     uint64 `json:"block_height"`
	InPool          bool   `json:"in_pool"`
	DoubleSpendSeen bool   `json:"double_spend_seen"`
}

// decodedTx is the subset of the JSON decoded tx returned by monerod that
// reveals the spent key images and the miner fee.
type decodedTx struct {
	Vin []struct {
		Key struct {
			KeyImage string `json:"k_image"`
		} `json:"key"`
	} `json:"vin"`
	RctSignatures struct {
		TxnFee uint64 `json:"txnFee"`
	} `json:"rct_signatures"`
}

type getBlockCountResponse struct {
	Count  uint64 `json:"count"`
	Status string `json:"status"`
}

type getInfoResponse struct {
	Height  uint64 `json:"height"`
	NetType string `json:"nettype"`
	Synced  bool   `json:"synchronized"`
	Status  string `json:"status"`
}
