package ethrpc

// GatewayABI is the relay contract interface. The gateway verifies the
// envelope signature, executes it against its escrow program and emits
// Executed with the outcome.
const GatewayABI = `[
  {"type":"function","name":"submit","stateMutability":"nonpayable",
   "inputs":[{"name":"envelope","type":"bytes"},{"name":"signature","type":"bytes"}],
   "outputs":[{"name":"txHash","type":"bytes32"}]},
  {"type":"function","name":"sequence","stateMutability":"view",
   "inputs":[{"name":"account","type":"address"}],
   "outputs":[{"name":"","type":"uint64"}]},
  {"type":"function","name":"query","stateMutability":"view",
   "inputs":[{"name":"operation","type":"bytes"}],
   "outputs":[{"name":"result","type":"bytes"},{"name":"codespace","type":"string"},{"name":"code","type":"uint32"},{"name":"log","type":"string"}]},
  {"type":"event","name":"Executed","anonymous":false,
   "inputs":[
     {"name":"txHash","type":"bytes32","indexed":true},
     {"name":"source","type":"address","indexed":true},
     {"name":"sequence","type":"uint64","indexed":false},
     {"name":"success","type":"bool","indexed":false},
     {"name":"codespace","type":"string","indexed":false},
     {"name":"code","type":"uint32","indexed":false},
     {"name":"log","type":"string","indexed":false},
     {"name":"results","type":"bytes","indexed":false},
     {"name":"events","type":"bytes","indexed":false}]}
]`
