// Implementações concretas da camada de infraestrutura: o codec de chaves
// do store, o store Redis (com o script atômico de admissão), o store em
// memória para teste/desenvolvimento, o pool de vagas e os sinks de
// métricas/estatísticas.
package infra
