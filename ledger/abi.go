package ledger

// ABI fragments for the escrow programs and the minimal ERC-20 surface the
// client touches. Kept inline so the module carries no build-time codegen.

// ProtectedTransferABI covers the point-to-point escrow program: create,
// claim, refund, the read projection, and the creation event whose first
// indexed argument is the ledger-assigned transfer id.
const ProtectedTransferABI = `[
  {"type":"function","name":"createTransfer","stateMutability":"nonpayable","inputs":[
    {"name":"recipient","type":"address"},
    {"name":"token","type":"address"},
    {"name":"amount","type":"uint256"},
    {"name":"expiry","type":"uint64"},
    {"name":"hasPassword","type":"bool"},
    {"name":"claimCodeHash","type":"bytes32"}],"outputs":[]},
  {"type":"function","name":"claimTransfer","stateMutability":"nonpayable","inputs":[
    {"name":"id","type":"bytes32"},
    {"name":"claimCode","type":"string"}],"outputs":[]},
  {"type":"function","name":"refundTransfer","stateMutability":"nonpayable","inputs":[
    {"name":"id","type":"bytes32"}],"outputs":[]},
  {"type":"function","name":"getTransfer","stateMutability":"view","inputs":[
    {"name":"id","type":"bytes32"}],"outputs":[
    {"name":"sender","type":"address"},
    {"name":"recipient","type":"address"},
    {"name":"token","type":"address"},
    {"name":"grossAmount","type":"uint256"},
    {"name":"netAmount","type":"uint256"},
    {"name":"expiry","type":"uint64"},
    {"name":"status","type":"uint8"},
    {"name":"isLinkTransfer","type":"bool"},
    {"name":"hasPassword","type":"bool"},
    {"name":"claimCodeHash","type":"bytes32"},
    {"name":"createdAt","type":"uint64"}]},
  {"type":"event","name":"TransferCreated","inputs":[
    {"name":"id","type":"bytes32","indexed":true},
    {"name":"sender","type":"address","indexed":true},
    {"name":"token","type":"address","indexed":false},
    {"name":"amount","type":"uint256","indexed":false}],"anonymous":false}
]`

// DropPoolABI covers the multi-recipient distribution program.
const DropPoolABI = `[
  {"type":"function","name":"createDrop","stateMutability":"nonpayable","inputs":[
    {"name":"token","type":"address"},
    {"name":"totalAmount","type":"uint256"},
    {"name":"recipientCount","type":"uint32"},
    {"name":"mode","type":"uint8"},
    {"name":"expiryTime","type":"uint64"},
    {"name":"message","type":"string"}],"outputs":[]},
  {"type":"function","name":"claimDrop","stateMutability":"nonpayable","inputs":[
    {"name":"id","type":"bytes32"}],"outputs":[]},
  {"type":"function","name":"refundDrop","stateMutability":"nonpayable","inputs":[
    {"name":"id","type":"bytes32"}],"outputs":[]},
  {"type":"function","name":"getDrop","stateMutability":"view","inputs":[
    {"name":"id","type":"bytes32"}],"outputs":[
    {"name":"creator","type":"address"},
    {"name":"token","type":"address"},
    {"name":"totalAmount","type":"uint256"},
    {"name":"remainingAmount","type":"uint256"},
    {"name":"claimedCount","type":"uint32"},
    {"name":"totalRecipients","type":"uint32"},
    {"name":"amountPerRecipient","type":"uint256"},
    {"name":"mode","type":"uint8"},
    {"name":"expiryTime","type":"uint64"},
    {"name":"message","type":"string"},
    {"name":"isActive","type":"bool"}]},
  {"type":"event","name":"DropCreated","inputs":[
    {"name":"id","type":"bytes32","indexed":true},
    {"name":"creator","type":"address","indexed":true},
    {"name":"token","type":"address","indexed":false},
    {"name":"totalAmount","type":"uint256","indexed":false}],"anonymous":false}
]`

// ERC20ABI is the minimal token surface: allowance checks and approvals for
// moving a balance into escrow.
const ERC20ABI = `[
  {"type":"function","name":"allowance","stateMutability":"view","inputs":[
    {"name":"owner","type":"address"},
    {"name":"spender","type":"address"}],"outputs":[
    {"name":"","type":"uint256"}]},
  {"type":"function","name":"approve","stateMutability":"nonpayable","inputs":[
    {"name":"spender","type":"address"},
    {"name":"amount","type":"uint256"}],"outputs":[
    {"name":"","type":"bool"}]},
  {"type":"function","name":"balanceOf","stateMutability":"view","inputs":[
    {"name":"account","type":"address"}],"outputs":[
    {"name":"","type":"uint256"}]}
]`
