// Camada de domínio do rate limit distribuído.
//
// Contém os tipos e contratos puros: Entry (o registro universal de quota),
// os enums de roteamento/escopo, o modelo de decisão e a interface Store.
// Nada aqui depende de net/http nem de Redis.
package domain
