package chain

// Minimal ABI fragments for the three protocol contracts. Only the methods
// the bot calls are declared; anything else on the contracts is invisible
// here by design of the boundary (§ external collaborators).

// protocolABIJSON covers the lending protocol: the paginated active-loans
// query, the single-loan query, and the liquidation call.
const protocolABIJSON = `[
  {
    "name": "getActiveLoans",
    "type": "function",
    "stateMutability": "view",
    "inputs": [
      {"name": "start", "type": "uint256"},
      {"name": "count", "type": "uint256"},
      {"name": "unsafeOnly", "type": "bool"}
    ],
    "outputs": [
      {
        "name": "loansData",
        "type": "tuple[]",
        "components": [
          {"name": "loanId", "type": "bytes32"},
          {"name": "loanToken", "type": "address"},
          {"name": "collateralToken", "type": "address"},
          {"name": "principal", "type": "uint256"},
          {"name": "collateral", "type": "uint256"},
          {"name": "interestOwedPerDay", "type": "uint256"},
          {"name": "interestDepositRemaining", "type": "uint256"},
          {"name": "startRate", "type": "uint256"},
          {"name": "startMargin", "type": "uint256"},
          {"name": "maintenanceMargin", "type": "uint256"},
          {"name": "currentMargin", "type": "uint256"},
          {"name": "maxLoanTerm", "type": "uint256"},
          {"name": "endTimestamp", "type": "uint256"},
          {"name": "maxLiquidatable", "type": "uint256"},
          {"name": "maxSeizable", "type": "uint256"}
        ]
      }
    ]
  },
  {
    "name": "getLoan",
    "type": "function",
    "stateMutability": "view",
    "inputs": [{"name": "loanId", "type": "bytes32"}],
    "outputs": [
      {
        "name": "loanData",
        "type": "tuple",
        "components": [
          {"name": "loanId", "type": "bytes32"},
          {"name": "loanToken", "type": "address"},
          {"name": "collateralToken", "type": "address"},
          {"name": "principal", "type": "uint256"},
          {"name": "collateral", "type": "uint256"},
          {"name": "interestOwedPerDay", "type": "uint256"},
          {"name": "interestDepositRemaining", "type": "uint256"},
          {"name": "startRate", "type": "uint256"},
          {"name": "startMargin", "type": "uint256"},
          {"name": "maintenanceMargin", "type": "uint256"},
          {"name": "currentMargin", "type": "uint256"},
          {"name": "maxLoanTerm", "type": "uint256"},
          {"name": "endTimestamp", "type": "uint256"},
          {"name": "maxLiquidatable", "type": "uint256"},
          {"name": "maxSeizable", "type": "uint256"}
        ]
      }
    ]
  },
  {
    "name": "liquidate",
    "type": "function",
    "stateMutability": "payable",
    "inputs": [
      {"name": "loanId", "type": "bytes32"},
      {"name": "receiver", "type": "address"},
      {"name": "closeAmount", "type": "uint256"}
    ],
    "outputs": [
      {"name": "loanCloseAmount", "type": "uint256"},
      {"name": "seizedAmount", "type": "uint256"},
      {"name": "seizedToken", "type": "address"}
    ]
  }
]`

// swapsABIJSON covers the AMM swap network: path resolution, path-quoted
// rates, and swap execution.
const swapsABIJSON = `[
  {
    "name": "conversionPath",
    "type": "function",
    "stateMutability": "view",
    "inputs": [
      {"name": "_sourceToken", "type": "address"},
      {"name": "_targetToken", "type": "address"}
    ],
    "outputs": [{"name": "", "type": "address[]"}]
  },
  {
    "name": "rateByPath",
    "type": "function",
    "stateMutability": "view",
    "inputs": [
      {"name": "_path", "type": "address[]"},
      {"name": "_amount", "type": "uint256"}
    ],
    "outputs": [{"name": "", "type": "uint256"}]
  },
  {
    "name": "convertByPath",
    "type": "function",
    "stateMutability": "payable",
    "inputs": [
      {"name": "_path", "type": "address[]"},
      {"name": "_amount", "type": "uint256"},
      {"name": "_minReturn", "type": "uint256"},
      {"name": "_beneficiary", "type": "address"},
      {"name": "_affiliateAccount", "type": "address"},
      {"name": "_affiliateFee", "type": "uint256"}
    ],
    "outputs": [{"name": "", "type": "uint256"}]
  }
]`

// feedABIJSON covers the price oracle's return query.
const feedABIJSON = `[
  {
    "name": "queryReturn",
    "type": "function",
    "stateMutability": "view",
    "inputs": [
      {"name": "sourceToken", "type": "address"},
      {"name": "destToken", "type": "address"},
      {"name": "sourceAmount", "type": "uint256"}
    ],
    "outputs": [{"name": "destAmount", "type": "uint256"}]
  }
]`

// erc20ABIJSON covers the token methods used for balance snapshots and swap
// allowances.
const erc20ABIJSON = `[
  {
    "name": "balanceOf",
    "type": "function",
    "stateMutability": "view",
    "inputs": [{"name": "owner", "type": "address"}],
    "outputs": [{"name": "", "type": "uint256"}]
  },
  {
    "name": "approve",
    "type": "function",
    "stateMutability": "nonpayable",
    "inputs": [
      {"name": "spender", "type": "address"},
      {"name": "value", "type": "uint256"}
    ],
    "outputs": [{"name": "", "type": "bool"}]
  }
]`
